package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hackgods/consultation-scheduling/internal/config"
)

// New builds the process logger. Output goes to stdout and, when
// cfg.File is set, to a size-rotated file as well.
func New(cfg config.LogConfig, service, env, version string) *slog.Logger {
	return slog.New(newHandler(cfg, env, os.Stdout)).With(
		slog.String("service", service),
		slog.String("version", version),
		slog.String("env", env),
	)
}

func newHandler(cfg config.LogConfig, env string, stdout io.Writer) slog.Handler {
	w := stdout
	if cfg.File != "" {
		w = io.MultiWriter(stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: strings.EqualFold(env, "dev"),
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

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
