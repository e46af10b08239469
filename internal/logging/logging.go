// Package logging provides structured logging for the meshlog application.
//
// It wraps the standard library's log/slog package so every component logs
// with a consistent shape. Text output is the default for interactive use;
// JSON output is intended for running under a supervisor.
//
// Usage:
//
//	logging.Init(slog.LevelInfo, false)
//	log := logging.Component("logstore")
//	log.Info("opened hourly file", "path", path)
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With("component", name)
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With(args...)
}

// WithContext returns a logger that includes request-scoped context values.
func WithContext(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}

	logger := Logger

	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	if label, ok := ctx.Value(contextKeyLabel).(string); ok {
		logger = logger.With("label", label)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRequestID contextKey = iota
	contextKeyLabel
)

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// ContextWithLabel adds a store label to the context for logging.
func ContextWithLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, contextKeyLabel, label)
}
