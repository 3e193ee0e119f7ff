package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/kitool/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestRecordToolCall(t *testing.T) {
	buf := &bytes.Buffer{}
	audit := NewAuditLogger(buf)
	audit.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	audit.RecordToolCall(context.Background(), ToolCall{
		InvocationID: "abc",
		SessionKey:   "s1",
		Actor:        "ws:c-1",
		Tool:         "sh",
		Status:       "success",
		Duration:     1500 * time.Millisecond,
		Truncated:    true,
	})
	audit.RecordToolCall(context.Background(), ToolCall{InvocationID: "def", Actor: "cli", Tool: "py", Status: "timeout"})

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 2)

	assert.Equal(t, map[string]interface{}{
		"timestamp":     "2026-03-04T05:06:07Z",
		"action":        "execute:sh",
		"status":        "success",
		"actor":         "ws:c-1",
		"invocation_id": "abc",
		"duration_ms":   float64(1500),
		"session_key":   "s1",
		"truncated":     true,
	}, entries[0])

	assert.Equal(t, "execute:py", entries[1]["action"])
	assert.NotContains(t, entries[1], "session_key")
	assert.NotContains(t, entries[1], "truncated")
	assert.NotContains(t, entries[1], "trace_id")
}

func TestRecordToolCall_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	ctx, span := provider.Tracer("test").Start(context.Background(), "call")
	buf := &bytes.Buffer{}
	NewAuditLogger(buf).RecordToolCall(ctx, ToolCall{Tool: "py", Actor: "cli", Status: "timeout"})
	span.End()

	assert.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "audit", ended[0].Events()[0].Name)
}

func TestOpenAuditLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "tools.jsonl")

	audit, err := OpenAuditLog(path, logger.Rotation{})
	require.NoError(t, err)
	audit.RecordToolCall(context.Background(), ToolCall{Tool: "read_file", Status: "success"})
	audit.RecordToolCall(context.Background(), ToolCall{Tool: "write_file", Status: "execution"})
	require.NoError(t, audit.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := decodeLines(t, content)
	require.Len(t, entries, 2)
	assert.Equal(t, "execute:write_file", entries[1]["action"])
	assert.Equal(t, "execution", entries[1]["status"])
}

func TestNilAuditLogger(t *testing.T) {
	var audit *AuditLogger

	assert.NotPanics(t, func() {
		audit.RecordToolCall(context.Background(), ToolCall{Tool: "sh"})
	})
	assert.NoError(t, audit.Close())
	assert.NoError(t, NewAuditLogger(&bytes.Buffer{}).Close())
}
