package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	unsetConfigEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "backend": {"base_url": "http://backend.local:8000/", "request_timeout_seconds": 30},
	  "conversation": {"region": "Europe", "regions": ["Turkey", "Europe"], "poll_interval_ms": 250, "max_polls": 40},
	  "channels": {"telegram": {}},
	  "gateway": {"host": "127.0.0.1", "port": 18800},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("LONCACHAT_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if got := cfg.Backend.MessageURL(); got != "http://backend.local:8000/message" {
		t.Fatalf("message url = %q", got)
	}
	if got := cfg.Backend.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("request timeout = %v, want 30s", got)
	}
	if cfg.Conversation.Region != "Europe" {
		t.Fatalf("conversation.region = %q, want %q", cfg.Conversation.Region, "Europe")
	}
	if got := cfg.Conversation.PollInterval(); got != 250*time.Millisecond {
		t.Fatalf("poll interval = %v, want 250ms", got)
	}
	if cfg.Conversation.MaxPolls != 40 {
		t.Fatalf("max polls = %d, want 40", cfg.Conversation.MaxPolls)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("LONCACHAT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	unsetConfigEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Backend.MessageURL() != DefaultBaseURL+DefaultMessagePath {
		t.Fatalf("message url = %q", cfg.Backend.MessageURL())
	}
	if cfg.Conversation.Region != DefaultRegions[0] {
		t.Fatalf("region = %q, want %q", cfg.Conversation.Region, DefaultRegions[0])
	}
	if cfg.Conversation.PollInterval() != time.Second {
		t.Fatalf("poll interval = %v, want 1s", cfg.Conversation.PollInterval())
	}
	if cfg.Conversation.MaxPolls != 0 {
		t.Fatalf("max polls = %d, want unbounded", cfg.Conversation.MaxPolls)
	}
	if cfg.Backend.RequestTimeout() != 0 {
		t.Fatalf("request timeout = %v, want none", cfg.Backend.RequestTimeout())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	unsetConfigEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("LONCACHAT_BACKEND_URL", "http://10.0.0.2:9000")
	t.Setenv("LONCACHAT_REGION", "Other")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token-1")
	t.Setenv("TELEGRAM_ALLOW_FROM", " 1, ,2,1 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://10.0.0.2:9000" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Conversation.Region != "Other" {
		t.Fatalf("region = %q, want Other", cfg.Conversation.Region)
	}
	if cfg.Channels.Telegram.Token != "token-1" {
		t.Fatalf("telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 {
		t.Fatalf("allow_from = %v, want 2 entries", cfg.Channels.Telegram.AllowFrom)
	}
}

func TestValidateRegion(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "exact", input: "Europe", want: "Europe"},
		{name: "case insensitive", input: " turkey ", want: "Turkey"},
		{name: "unknown", input: "Mars", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.Conversation.ValidateRegion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRegion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ValidateRegion(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestApplyDefaultsNormalizesMessagePath(t *testing.T) {
	cfg := &Config{Backend: BackendConfig{BaseURL: "http://x/", MessagePath: "chat"}}
	cfg.ApplyDefaults()

	if got := cfg.Backend.MessageURL(); got != "http://x/chat" {
		t.Fatalf("message url = %q, want %q", got, "http://x/chat")
	}
}

func unsetConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LONCACHAT_CONFIG", "LONCACHAT_BACKEND_URL", "LONCACHAT_REGION", "TELEGRAM_BOT_TOKEN", "TELEGRAM_ALLOW_FROM"} {
		t.Setenv(key, "")
	}
}
