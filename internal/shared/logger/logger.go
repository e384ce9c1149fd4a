package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"regions-server/internal/shared/config"
)

// Init installs the process-wide slog handler described by the logging config
// and returns the resulting logger.
func Init(logConfig config.LoggingConfig, environment string) *slog.Logger {
	handler := newHandler(os.Stdout, logConfig)
	slog.SetDefault(slog.New(handler))

	logger := slog.With("component", "logger")
	logger.Debug("Logger initialized",
		"level", logConfig.Level,
		"json_format", logConfig.JSONFormat,
		"environment", environment,
	)

	return slog.Default()
}

// New builds a logger writing to w without touching the process default
func New(w io.Writer, logConfig config.LoggingConfig) *slog.Logger {
	return slog.New(newHandler(w, logConfig))
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(w io.Writer, logConfig config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(logConfig.Level)}
	if logConfig.JSONFormat {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
