package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/evanofslack/ipsync/internal/config"
)

// Configure installs the default slog logger. Dev environments get a
// colored console handler, everything else JSON. When a log file is set,
// records are also written there as JSON with size based rotation.
// The returned closer releases the log file and is never nil.
func Configure(cfg config.Log) io.Closer {
	level := parseLogLevel(cfg.Level)
	w := os.Stdout
	var handler slog.Handler

	if cfg.Env == "dev" || cfg.Env == "development" {
		handler = tint.NewHandler(w, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		fileHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})
		handler = slogmulti.Fanout(handler, fileHandler)
		closer = rotator
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
