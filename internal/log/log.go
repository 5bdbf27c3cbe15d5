// Package log builds the slog loggers used across devrecall.
//
// Loggers are injected, never global: each component takes a log.Logger in
// its constructor and scopes it with logger.With("component", ...). Tests use
// NewNop, or NewWithWriter with a buffer when output matters.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger aliases *slog.Logger so components depend on the standard type
// without importing slog everywhere.
type Logger = *slog.Logger

// Config controls handler construction.
type Config struct {
	Level     slog.Level // minimum level, default info
	JSON      bool       // JSON handler instead of text
	AddSource bool       // attach source file positions
}

// New returns a logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to its slog level. Unknown names fall back to
// info so a typo in an env var cannot silence logging.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewNop returns a logger that discards everything. Test use only.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
