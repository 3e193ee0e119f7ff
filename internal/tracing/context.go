package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	sessionKeyKey
)

// NewTraceID returns a random trace ID for requests that bring none
func NewTraceID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, sessionKey)
}

func value(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// TraceID returns the trace ID carried by ctx, or ""
func TraceID(ctx context.Context) string { return value(ctx, traceIDKey) }

// SessionKey returns the session key carried by ctx, or ""
func SessionKey(ctx context.Context) string { return value(ctx, sessionKeyKey) }

// NewRequestContext starts a request scope: the caller's trace ID when it
// sent one, a fresh one otherwise.
func NewRequestContext(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return WithTraceID(ctx, traceID)
}

// LoggerFromContext returns logger with the trace ID and session key of ctx
// attached, so every line of one call can be correlated.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	traceID, sessionKey := TraceID(ctx), SessionKey(ctx)
	if traceID == "" && sessionKey == "" {
		return logger
	}
	lc := logger.With()
	if traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if sessionKey != "" {
		lc = lc.Str("session_key", sessionKey)
	}
	return lc.Logger()
}
