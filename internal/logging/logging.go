// Package logging provides structured logging for the podwatch daemon.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("scheduler")
//	log.Info("cycle complete", "pods", 212)
//
//	// Log with cycle context
//	logging.WithContext(ctx).Warn("vantage point failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
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
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
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

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers are usually package variables created before Init runs,
// so they resolve the global handler on every record.
//
// Example:
//
//	log := logging.Component("rpc")
//	log.Info("started") // Output: time=... level=INFO component=rpc msg=started
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return slog.New(&globalHandler{}).With("component", name)
}

// globalHandler forwards to the current global handler, replaying the
// attributes and groups it was derived with.
type globalHandler struct {
	derive []func(slog.Handler) slog.Handler
}

func (h *globalHandler) target() slog.Handler {
	t := Logger.Handler()
	for _, d := range h.derive {
		t = d(t)
	}
	return t
}

func (h *globalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger.Handler().Enabled(ctx, level)
}

func (h *globalHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *globalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(t slog.Handler) slog.Handler { return t.WithAttrs(attrs) })
}

func (h *globalHandler) WithGroup(name string) slog.Handler {
	return h.with(func(t slog.Handler) slog.Handler { return t.WithGroup(name) })
}

func (h *globalHandler) with(d func(slog.Handler) slog.Handler) slog.Handler {
	derive := make([]func(slog.Handler) slog.Handler, len(h.derive), len(h.derive)+1)
	copy(derive, h.derive)
	return &globalHandler{derive: append(derive, d)}
}

// WithContext returns a logger that includes the cycle and vantage point
// carried by ctx, if any.
func WithContext(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return FromContext(ctx, Logger)
}

// FromContext decorates base with the cycle and vantage attributes of ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base

	if runID, ok := ctx.Value(contextKeyRunID).(string); ok {
		logger = logger.With("run_id", runID)
	}
	if cycleID, ok := ctx.Value(contextKeyCycleID).(int64); ok {
		logger = logger.With("cycle_id", cycleID)
	}
	if vantage, ok := ctx.Value(contextKeyVantage).(string); ok {
		logger = logger.With("vantage", vantage)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunID contextKey = iota
	contextKeyCycleID
	contextKeyVantage
)

// ContextWithCycle adds the run id and cycle id of an aggregation cycle.
func ContextWithCycle(ctx context.Context, runID string, cycleID int64) context.Context {
	ctx = context.WithValue(ctx, contextKeyRunID, runID)
	return context.WithValue(ctx, contextKeyCycleID, cycleID)
}

// ContextWithVantage adds the vantage point being fetched.
func ContextWithVantage(ctx context.Context, vantage string) context.Context {
	return context.WithValue(ctx, contextKeyVantage, vantage)
}
