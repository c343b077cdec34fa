package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// NewLogger builds the text logger for cfg. With LogDir set, output is
// mirrored to a timestamped file there; the returned cleanup closes it.
func NewLogger(cfg Config, out io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir == "" {
		return slog.New(slog.NewTextHandler(out, opts)), cleanup, nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, cleanup, err
	}
	name := filepath.Join(cfg.LogDir, fmt.Sprintf("mailshelf-%s.log", time.Now().Format("20060102T150405")))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, cleanup, err
	}
	handler := slog.NewTextHandler(io.MultiWriter(out, file), opts)
	return slog.New(handler), file.Close, nil
}
