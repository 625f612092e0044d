package dkim

import (
	"context"
)

type contextKey string

const traceKey contextKey = "trace"

func trace(ctx context.Context, f string, args ...interface{}) {
	traceFunc, ok := ctx.Value(traceKey).(TraceFunc)
	if !ok {
		return
	}
	traceFunc(f, args...)
}

// TraceFunc receives progress messages from the signing process. They are
// meant for debugging, and can include message contents.
type TraceFunc func(f string, a ...interface{})

// WithTraceFunc returns a context that will send signing progress messages
// to the given function.
func WithTraceFunc(ctx context.Context, trace TraceFunc) context.Context {
	return context.WithValue(ctx, traceKey, trace)
}
