package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a structured JSON logger tagged with the service name. The
// level is taken from LOG_LEVEL (default: INFO).
func New(serviceName string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	// Every log entry carries the emitting service.
	return slog.New(handler).With(slog.String("service", serviceName))
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
