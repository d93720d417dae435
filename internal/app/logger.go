package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a slog.Logger for the named process based on configuration.
func NewLogger(cfg *Config, process string) *slog.Logger {
	return newLogger(os.Stdout, cfg, process)
}

func newLogger(w io.Writer, cfg *Config, process string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	if process != "" {
		logger = logger.With(slog.String("process", process))
	}
	return logger
}
