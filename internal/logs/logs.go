package logs

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"wakeline/internal/config"
)

// New builds a logger from config. Records fan out to stdout, an optional
// rotated file, and the ring when one is given.
func New(cfg *config.Config, ring *Ring) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	isDev := strings.EqualFold(cfg.Environment, "development")

	writers := []io.Writer{os.Stdout}

	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	if ring != nil {
		writers = append(writers, ring)
	}

	w := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: isDev,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With(
		slog.String("service", "wakeline"),
		slog.String("env", cfg.Environment),
	)
}

// Discard returns a logger that drops everything. Used by tests and one-shot
// commands that do not want output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
