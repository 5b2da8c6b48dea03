// Package logging configures the process-wide slog logger. Every component
// receives a child of the logger built here, tagged via
// logger.With("component", ...).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by DefaultConfig.
const (
	// LevelEnv sets the minimum level: DEBUG, INFO, WARN or ERROR.
	LevelEnv = "RECEIPTS_LOG_LEVEL"
	// FormatEnv selects the output format: "text" (default) or "json".
	FormatEnv = "RECEIPTS_LOG_FORMAT"
)

// Config holds logger settings.
type Config struct {
	// Level is the minimum level to emit.
	Level slog.Level
	// Format is "text" or "json". Daemon deployments typically run json so
	// the receipt pipeline's per-message fields stay machine-readable.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig builds a Config from the RECEIPTS_LOG_* environment
// variables, falling back to INFO-level text output.
func DefaultConfig() Config {
	return Config{
		Level:  ParseLevel(os.Getenv(LevelEnv)),
		Format: strings.ToLower(os.Getenv(FormatEnv)),
		Output: os.Stderr,
	}
}

// ParseLevel maps a level name to its slog.Level. Unknown or empty input
// means INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the root logger and installs it as the slog default.
func Setup(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
