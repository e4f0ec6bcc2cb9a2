// Package logger builds the process-wide structured logger. All
// infrastructure code logs through log/slog; this package only decides
// handler, level, and base attributes from configuration.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel parses a string into a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
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

// Options configures the logger.
type Options struct {
	Output  io.Writer
	Level   slog.Level
	Service string
	Env     string
	// JSON switches to JSON output; text is the development default.
	JSON bool
}

// New creates a configured *slog.Logger.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Env != "" {
		logger = logger.With("env", opts.Env)
	}
	return logger
}

// ForEnv creates a logger with conventions per environment: JSON at Info
// for production, text at Debug elsewhere.
func ForEnv(service, env, level string) *slog.Logger {
	opts := Options{
		Level:   ParseLevel(level),
		Service: service,
		Env:     env,
		JSON:    env == "production",
	}
	if level == "" && env != "production" {
		opts.Level = slog.LevelDebug
	}
	return New(opts)
}
