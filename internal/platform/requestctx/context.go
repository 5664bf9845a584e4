// Package requestctx carries per-request values (logger and trace ids)
// through context without importing the HTTP layer.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type valuesKey struct{}

// values is copied on every write so earlier contexts never observe later
// changes.
type values struct {
	logger *zap.Logger
	trace  TraceInfo
	traced bool
}

var noopLogger = zap.NewNop()

// TraceInfo identifies the span serving the request.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

func from(ctx context.Context) values {
	if ctx == nil {
		return values{}
	}
	v, _ := ctx.Value(valuesKey{}).(values)
	return v
}

func with(ctx context.Context, update func(*values)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	v := from(ctx)
	update(&v)
	return context.WithValue(ctx, valuesKey{}, v)
}

// WithLogger returns ctx carrying logger. A nil logger stores the no-op one.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, func(v *values) { v.logger = logger })
}

// Logger returns the request logger, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if l := from(ctx).logger; l != nil {
		return l
	}
	return noopLogger
}

// NoopLogger is the logger returned when none is set.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, func(v *values) {
		v.trace = info
		v.traced = true
	})
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	v := from(ctx)
	return v.trace, v.traced
}
