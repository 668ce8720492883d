package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	envConfigPath        = "LONCACHAT_CONFIG"
	envBackendURL        = "LONCACHAT_BACKEND_URL"
	envRegion            = "LONCACHAT_REGION"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8000"
	DefaultMessagePath    = "/message"
	DefaultPollIntervalMS = 1000
	DefaultGatewayHost    = "0.0.0.0"
	DefaultGatewayPort    = 18790
)

// DefaultRegions is the region set offered when config.json does not list one.
var DefaultRegions = []string{"Turkey", "Europe", "Other"}

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Backend      BackendConfig      `json:"backend"`
	Conversation ConversationConfig `json:"conversation"`
	Channels     ChannelsConfig     `json:"channels"`
	Gateway      GatewayConfig      `json:"gateway"`
	Logging      LoggingConfig      `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	File      string `json:"file,omitempty"`
}

// BackendConfig describes the conversational backend endpoint.
type BackendConfig struct {
	BaseURL               string `json:"base_url"`
	MessagePath           string `json:"message_path"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ConversationConfig holds orchestration defaults shared by every front end.
type ConversationConfig struct {
	Region         string   `json:"region"`
	Regions        []string `json:"regions"`
	PollIntervalMS int      `json:"poll_interval_ms"`
	// MaxPolls caps consecutive polls per cycle. Zero polls until the backend resolves.
	MaxPolls int `json:"max_polls"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
//
// A missing config.json is not an error: the client runs against the default
// local backend.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset fields with built-in defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBaseURL
	}
	c.Backend.MessagePath = strings.TrimSpace(c.Backend.MessagePath)
	if c.Backend.MessagePath == "" {
		c.Backend.MessagePath = DefaultMessagePath
	}
	if !strings.HasPrefix(c.Backend.MessagePath, "/") {
		c.Backend.MessagePath = "/" + c.Backend.MessagePath
	}

	c.Conversation.Regions = cleanList(c.Conversation.Regions)
	if len(c.Conversation.Regions) == 0 {
		c.Conversation.Regions = slices.Clone(DefaultRegions)
	}
	c.Conversation.Region = strings.TrimSpace(c.Conversation.Region)
	if c.Conversation.Region == "" {
		c.Conversation.Region = c.Conversation.Regions[0]
	}
	if c.Conversation.PollIntervalMS <= 0 {
		c.Conversation.PollIntervalMS = DefaultPollIntervalMS
	}
	if c.Conversation.MaxPolls < 0 {
		c.Conversation.MaxPolls = 0
	}

	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = DefaultGatewayHost
	}
	if c.Gateway.Port <= 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
}

// PollInterval returns the delay between completion polls.
func (c ConversationConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return time.Duration(DefaultPollIntervalMS) * time.Millisecond
	}

	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// RequestTimeout returns the per-exchange timeout, or zero when unbounded.
func (c BackendConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}

	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MessageURL joins the base URL and message path.
func (c BackendConfig) MessageURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.MessagePath
}

// ValidateRegion reports whether region is one of the configured choices.
// Matching is case-insensitive and the canonical spelling is returned.
func (c ConversationConfig) ValidateRegion(region string) (string, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return "", errors.New("region is required")
	}

	for _, candidate := range c.Regions {
		if strings.EqualFold(candidate, region) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("unknown region %q (choose one of %s)", region, strings.Join(c.Regions, ", "))
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if baseURL := strings.TrimSpace(os.Getenv(envBackendURL)); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}

	if region := strings.TrimSpace(os.Getenv(envRegion)); region != "" {
		cfg.Conversation.Region = region
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	return cleanList(strings.Split(input, ","))
}

func cleanList(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" || slices.Contains(clean, trimmed) {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is LONCACHAT_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file was found and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}

	return "", nil
}
