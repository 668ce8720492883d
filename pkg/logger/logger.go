package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"loncachat/pkg/config"
)

// Formats accepted by logging.format and LONCACHAT_LOG_FORMAT.
const (
	FormatText   = "text"
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

const (
	envLogFormat    = "LONCACHAT_LOG_FORMAT"
	envLogLevel     = "LONCACHAT_LOG_LEVEL"
	envLogAddSource = "LONCACHAT_LOG_ADD_SOURCE"
	envLogFile      = "LONCACHAT_LOG_FILE"
)

// Options carries the per-command parts of logger construction.
type Options struct {
	// Fallback receives output when no log file is configured. Nil means
	// stderr. The chat screen passes io.Discard.
	Fallback io.Writer
	// Command and Backend are stamped on every line when set.
	Command string
	Backend string
}

func (o Options) attrs() []any {
	var attrs []any
	if o.Command != "" {
		attrs = append(attrs, "command", o.Command)
	}
	if o.Backend != "" {
		attrs = append(attrs, "backend", o.Backend)
	}

	return attrs
}

type settings struct {
	format    string
	level     slog.Level
	addSource bool
	file      string
}

// New builds the process logger. The closer releases the log file, if one was
// opened, and is always safe to call.
func New(cfg config.LoggingConfig, opts Options) (*slog.Logger, io.Closer, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, nil, err
	}

	out, closer, err := openOutput(s.file, opts.Fallback)
	if err != nil {
		return nil, nil, err
	}

	log := slog.New(newHandler(s, out))
	if attrs := opts.attrs(); len(attrs) > 0 {
		log = log.With(attrs...)
	}

	return log, closer, nil
}

// resolve merges the config section with environment overrides. The
// environment wins.
func resolve(cfg config.LoggingConfig) (settings, error) {
	s := settings{
		format:    strings.ToLower(firstNonEmpty(os.Getenv(envLogFormat), cfg.Format, FormatText)),
		file:      firstNonEmpty(os.Getenv(envLogFile), cfg.File),
		addSource: cfg.AddSource,
	}

	switch s.format {
	case FormatText, FormatLogfmt, FormatJSON:
	default:
		return settings{}, fmt.Errorf("unsupported log format %q", s.format)
	}

	level, err := parseLevel(firstNonEmpty(os.Getenv(envLogLevel), cfg.Level, "info"))
	if err != nil {
		return settings{}, err
	}
	s.level = level

	if env := strings.TrimSpace(os.Getenv(envLogAddSource)); env != "" {
		s.addSource = parseBool(env)
	}

	return s, nil
}

func openOutput(path string, fallback io.Writer) (io.Writer, io.Closer, error) {
	if path == "" {
		if fallback == nil {
			fallback = os.Stderr
		}
		return fallback, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	return file, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newHandler renders text and logfmt through charmbracelet/log and JSON lines
// through slog's own key set.
func newHandler(s settings, out io.Writer) slog.Handler {
	if s.format == FormatJSON {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       s.level,
			AddSource:   s.addSource,
			ReplaceAttr: shortSource,
		})
	}

	formatter := charmLog.TextFormatter
	if s.format == FormatLogfmt {
		formatter = charmLog.LogfmtFormatter
	}

	return charmLog.NewWithOptions(out, charmLog.Options{
		Level:           charmLevel(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       formatter,
	})
}

// shortSource trims the JSON source attribute to file:line.
func shortSource(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.SourceKey {
		return attr
	}

	source, ok := attr.Value.Any().(*slog.Source)
	if !ok || source == nil || source.File == "" {
		return attr
	}

	return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(source.File), source.Line))
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseLevel(input string) (slog.Level, error) {
	switch strings.ToLower(input) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", input)
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}

	return ""
}
