// Package logging provides structured logging for the nrcsync daemon.
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
//	log := logging.Component("orchestrator")
//	log.Info("operation finished", "rundown", id, "duration", d)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	setLogger(slog.New(handler))
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	setLogger(slog.New(handler))
}

var current atomic.Pointer[slog.Logger]

func setLogger(l *slog.Logger) {
	Logger = l
	current.Store(l)
	slog.SetDefault(l)
}

func currentHandler() slog.Handler {
	l := current.Load()
	if l == nil {
		Init(slog.LevelInfo, false)
		l = current.Load()
	}
	return l.Handler()
}

// ParseLevel maps a config string (debug, info, warn, error) to a slog level.
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

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers follow later Init calls, so package level loggers
// pick up the configured level and format.
func Component(name string) *slog.Logger {
	return slog.New(&followHandler{}).With("component", name)
}

// followHandler forwards to the handler of the current global logger,
// replaying the attributes and groups added to it.
type followHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *followHandler) resolve() slog.Handler {
	hd := currentHandler()
	for _, op := range h.ops {
		hd = op(hd)
	}
	return hd
}

func (h *followHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return currentHandler().Enabled(ctx, level)
}

func (h *followHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *followHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(hd slog.Handler) slog.Handler { return hd.WithAttrs(attrs) })
}

func (h *followHandler) WithGroup(name string) slog.Handler {
	return h.with(func(hd slog.Handler) slog.Handler { return hd.WithGroup(name) })
}

func (h *followHandler) with(op func(slog.Handler) slog.Handler) slog.Handler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &followHandler{ops: append(ops, op)}
}

// WithContext returns l extended with the rundown and operation values
// carried by ctx. A nil l means the global logger.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		if Logger == nil {
			Init(slog.LevelInfo, false)
		}
		l = Logger
	}

	if rundown, ok := ctx.Value(contextKeyRundown).(string); ok {
		l = l.With("rundown", rundown)
	}
	if opID, ok := ctx.Value(contextKeyOperation).(string); ok {
		l = l.With("operation_id", opID)
	}
	if device, ok := ctx.Value(contextKeyDevice).(string); ok {
		l = l.With("device", device)
	}

	return l
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRundown contextKey = iota
	contextKeyOperation
	contextKeyDevice
)

// ContextWithRundown adds a rundown external id to the context for logging.
func ContextWithRundown(ctx context.Context, rundownID string) context.Context {
	return context.WithValue(ctx, contextKeyRundown, rundownID)
}

// ContextWithOperation adds an operation id to the context for logging.
func ContextWithOperation(ctx context.Context, opID string) context.Context {
	return context.WithValue(ctx, contextKeyOperation, opID)
}

// ContextWithDevice adds the peripheral device id to the context for logging.
func ContextWithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, contextKeyDevice, deviceID)
}

// OperationFromContext returns the operation id stored in ctx, if any.
func OperationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyOperation).(string)
	return id
}
