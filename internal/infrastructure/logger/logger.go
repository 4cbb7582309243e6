package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON logger on stdout at level (debug, info, warn,
// error; default info) tagged with the service name.
func NewLogger(level string) *slog.Logger {
	return New(os.Stdout, level, "json")
}

// New builds a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{slog.String("service", "clinicops")})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
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
