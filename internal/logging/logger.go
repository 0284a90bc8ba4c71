// Package logging provides the broker's structured JSON logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

func init() {
	Logger = New("info")
}

// New builds a JSON slog.Logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values fall back to info).
func New(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithComponent returns a child logger tagged with the given component name.
func WithComponent(component string) *slog.Logger {
	return Logger.With("component", component)
}

// SetLevel replaces the package-level Logger with one at the given level.
// Called once at startup after config is loaded.
func SetLevel(level string) {
	Logger = New(level)
}
