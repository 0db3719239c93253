package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// Log formats.
const (
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// NewLogger creates the process logger on stdout and installs it as slog's default.
// format "pretty" selects the human-oriented handler; anything else is JSON.
func NewLogger(level, format string, color bool) *slog.Logger {
	log := newLogger(os.Stdout, level, format, color)
	slog.SetDefault(log)
	return log
}

func newLogger(w io.Writer, level, format string, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	if strings.ToLower(strings.TrimSpace(format)) == LogFormatPretty {
		h = newPrettyHandler(w, opts, color)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
