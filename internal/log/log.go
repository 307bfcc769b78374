// Package log provides a slog setup which can carry structured attributes
// through a context.Context. Attributes added via ContextAttrs are emitted
// by every log call made with that context.
package log

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// ContextAttrs returns a new context carrying attrs in addition to
// any attributes already stored inside ctx.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// ContextHandler is a slog.Handler decorator adding attributes stored
// in a context by ContextAttrs to each record.
type ContextHandler struct {
	base slog.Handler
}

// NewContextHandler wraps base so records pick up context attributes.
func NewContextHandler(base slog.Handler) ContextHandler {
	return ContextHandler{base: base}
}

func (h ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, record)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{base: h.base.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{base: h.base.WithGroup(name)}
}

// New returns a JSON logger writing to stderr, at debug level
// when verbose is true and info level otherwise.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(NewContextHandler(base))
}
