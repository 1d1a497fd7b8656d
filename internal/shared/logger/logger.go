package logger

import (
	"io"
	"log/slog"
	"os"

	"hegemony-server/internal/shared/config"
)

func Init(cfg config.LoggingConfig, environment string) {
	slog.SetDefault(New(os.Stdout, cfg))

	logger := slog.With("component", "logger")
	logger.Debug("Logger initialized",
		"level", cfg.Level,
		"json_format", cfg.JSONFormat,
		"environment", environment,
	)
}

// New builds a logger writing to w without touching the process default.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := parseLogLevel(cfg.Level)

	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
