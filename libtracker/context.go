package libtracker

import (
	"context"
	"fmt"
	"math/rand/v2"
)

type contextKey string

var ContextKeyRequestID = contextKey("request_id")
var ContextKeyTraceID = contextKey("trace_id")

// WithNewRequestID stamps a fresh random request ID into ctx.
// Call this at the top of any CLI command or goroutine entry-point that
// doesn't already have a request ID so the tracker never logs SERVERBUG.
func WithNewRequestID(ctx context.Context) context.Context {
	id := fmt.Sprintf("cli-%016x", rand.Uint64())
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// EnsureRequestID keeps an existing request ID or stamps a new one.
func EnsureRequestID(ctx context.Context) context.Context {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok && id != "" {
		return ctx
	}
	return WithNewRequestID(ctx)
}

// WithTraceID sets the correlation id shared by all events of one run.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ContextKeyTraceID, traceID)
}

// TraceIDFrom returns the correlation id of ctx or "".
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyTraceID).(string)
	return id
}

// RequestIDFrom returns the request id of ctx or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}
