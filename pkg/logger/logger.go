package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a JSON slog logger for the given service. Level comes from
// LOG_LEVEL (debug|info|warn|error), defaulting to info.
func New(service string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// WithComponent returns a child logger scoped to one component.
func WithComponent(l *slog.Logger, component string) *slog.Logger {
	return l.With("component", component)
}
