// Package observability records an append-only audit trail of tool calls.
package observability

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/harun/kitool/internal/logger"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ToolCall is one audited invocation. Arguments and output are never
// audited; the history store keeps those, redacted.
type ToolCall struct {
	InvocationID string
	SessionKey   string
	Actor        string // "cli", "http:<ip>" or "ws:<client id>"
	Tool         string
	Status       string // "success" or an error kind
	Duration     time.Duration
	Truncated    bool
	At           time.Time // zero means now
}

// AuditLogger appends one JSON line per tool call. A nil *AuditLogger
// discards everything.
type AuditLogger struct {
	mu     sync.Mutex
	out    zerolog.Logger
	closer io.Closer
	now    func() time.Time
}

// NewAuditLogger writes to w; closing the logger leaves w open.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{out: zerolog.New(w), now: time.Now}
}

// OpenAuditLog appends to the file at path, rotated like the service log.
func OpenAuditLog(path string, rot logger.Rotation) (*AuditLogger, error) {
	file, err := logger.OpenFile(path, rot)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := NewAuditLogger(file)
	a.closer = file
	return a, nil
}

// RecordToolCall writes call and, when ctx carries a recording span, adds
// it to the span as an event and stamps the line with the trace id.
func (a *AuditLogger) RecordToolCall(ctx context.Context, call ToolCall) {
	if a == nil {
		return
	}
	if call.At.IsZero() {
		call.At = a.now()
	}

	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
		trace.SpanFromContext(ctx).AddEvent("audit", trace.WithAttributes(
			attribute.String("tool.name", call.Tool),
			attribute.String("tool.status", call.Status),
			attribute.String("actor", call.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	line := a.out.Log().
		Time("timestamp", call.At).
		Str("action", "execute:"+call.Tool).
		Str("status", call.Status).
		Str("actor", call.Actor).
		Str("invocation_id", call.InvocationID).
		Int64("duration_ms", call.Duration.Milliseconds())
	if call.SessionKey != "" {
		line = line.Str("session_key", call.SessionKey)
	}
	if call.Truncated {
		line = line.Bool("truncated", true)
	}
	if traceID != "" {
		line = line.Str("trace_id", traceID)
	}
	line.Send()
}

// Close closes the file opened by OpenAuditLog
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closer.Close()
}
