package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/use-agent/clearance/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// initLogger configures slog based on the LogConfig. Logs go to stderr,
// or to a size-rotated file when cfg.File is set, so stdout stays free for
// command output.
func initLogger(cfg config.LogConfig, stderr io.Writer) {
	slog.SetDefault(slog.New(newLogHandler(cfg, stderr)))
}

func newLogHandler(cfg config.LogConfig, stderr io.Writer) slog.Handler {
	out := stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
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
