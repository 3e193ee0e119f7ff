package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/kitool/internal/observability"
	"github.com/harun/kitool/internal/tracing"
	"github.com/harun/kitool/pkg/commandqueue"
	"github.com/harun/kitool/pkg/history"
	"github.com/harun/kitool/pkg/hooks"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

// DispatcherConfig wires a Dispatcher. Audit, History, Hooks and Redact may be nil.
type DispatcherConfig struct {
	Executor  *toolexecutor.ToolExecutor
	Queue     *commandqueue.CommandQueue
	Audit     *observability.AuditLogger
	History   *history.Store
	Hooks     *hooks.Manager
	WarnAfter time.Duration

	// Redact masks credentials in arguments and output before they are
	// written to history
	Redact func(string) string
}

// CallRequest is one tool call arriving from any front end
type CallRequest struct {
	Tool           string
	Args           map[string]interface{}
	SessionKey     string
	InvocationID   string
	IdempotencyKey string
	WorkingDir     string
	Actor          string
}

// CallResult carries the plain-text result of a call
type CallResult struct {
	Text         string `json:"text"`
	InvocationID string `json:"invocation_id"`
	IsError      bool   `json:"error"`
}

// Dispatcher runs tool calls in per-session FIFO lanes and records every
// outcome to the audit trail and the history store.
type Dispatcher struct {
	executor  *toolexecutor.ToolExecutor
	queue     *commandqueue.CommandQueue
	audit     *observability.AuditLogger
	history   *history.Store
	hooks     *hooks.Manager
	warnAfter time.Duration
	redact    func(string) string
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	redact := cfg.Redact
	if redact == nil {
		redact = func(s string) string { return s }
	}
	return &Dispatcher{
		executor:  cfg.Executor,
		queue:     cfg.Queue,
		audit:     cfg.Audit,
		history:   cfg.History,
		hooks:     cfg.Hooks,
		warnAfter: cfg.WarnAfter,
		redact:    redact,
	}, nil
}

// SessionLane maps a session key to its queue lane. Calls without a
// session share the default lane.
func SessionLane(sessionKey string) string {
	if sessionKey == "" {
		return commandqueue.DefaultLane
	}
	return "session:" + sessionKey
}

// Call runs req after every earlier call of the same session. Tool failures
// come back as error text with a nil error; a non-nil error means the call
// never ran (queue closed, lane cleared, context cancelled).
func (d *Dispatcher) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	req.SessionKey = strings.TrimSpace(req.SessionKey)
	if req.Args == nil {
		req.Args = map[string]interface{}{}
	}
	if req.InvocationID == "" {
		req.InvocationID = uuid.NewString()
	}
	if req.SessionKey != "" {
		ctx = tracing.WithSessionKey(ctx, req.SessionKey)
	}

	lane := SessionLane(req.SessionKey)
	opts := &commandqueue.TaskOptions{WarnAfter: d.warnAfter}
	if req.IdempotencyKey != "" {
		opts.RequestID = lane + ":" + req.Tool + ":" + req.IdempotencyKey
	}

	text, err := d.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (string, error) {
		if err := taskCtx.Err(); err != nil {
			return "", err
		}
		result := d.run(taskCtx, req)
		// The outcome is recorded even when the caller has gone away.
		d.record(context.WithoutCancel(taskCtx), req, result)
		if err := taskCtx.Err(); err != nil && !result.Success {
			return "", err
		}
		return result.Text(), nil
	}, opts)
	if err != nil {
		return CallResult{InvocationID: req.InvocationID}, err
	}

	return CallResult{
		Text:         text,
		InvocationID: req.InvocationID,
		IsError:      toolexecutor.IsError(text),
	}, nil
}

// run executes req between its tool.before and tool.after hooks. A failing
// blocking tool.before hook refuses the call as a validation failure.
func (d *Dispatcher) run(ctx context.Context, req CallRequest) toolexecutor.ToolResult {
	data := map[string]interface{}{
		"invocation_id": req.InvocationID,
		"session_key":   req.SessionKey,
		"actor":         req.Actor,
	}

	if err := d.hooks.Trigger(ctx, hooks.EventToolBefore, req.Tool, data); err != nil {
		te := toolexecutor.ValidationError(fmt.Errorf("blocked by hook: %w", err))
		return toolexecutor.ToolResult{
			Error:    toolexecutor.RenderError(te),
			Kind:     te.Kind,
			Metadata: map[string]interface{}{"duration": int64(0), "invocation_id": req.InvocationID},
		}
	}

	result := d.executor.Execute(ctx, req.Tool, req.Args, &toolexecutor.ExecutionContext{
		InvocationID: req.InvocationID,
		SessionKey:   req.SessionKey,
		WorkingDir:   req.WorkingDir,
	})

	if d.hooks.Count(hooks.EventToolAfter) > 0 {
		data["status"] = resultStatus(result)
		data["duration_ms"] = resultDuration(result)
		data["truncated"] = result.Truncated
		// tool.after hooks never block, so the error is always nil
		_ = d.hooks.Trigger(ctx, hooks.EventToolAfter, req.Tool, data)
	}
	return result
}

func resultStatus(result toolexecutor.ToolResult) string {
	if result.Success {
		return "success"
	}
	return string(result.Kind)
}

func resultDuration(result toolexecutor.ToolResult) int64 {
	if v, ok := result.Metadata["duration"].(int64); ok {
		return v
	}
	return 0
}

func (d *Dispatcher) record(ctx context.Context, req CallRequest, result toolexecutor.ToolResult) {
	status := resultStatus(result)
	durationMS := resultDuration(result)

	d.audit.RecordToolCall(ctx, observability.ToolCall{
		InvocationID: req.InvocationID,
		SessionKey:   req.SessionKey,
		Actor:        req.Actor,
		Tool:         req.Tool,
		Status:       status,
		Duration:     time.Duration(durationMS) * time.Millisecond,
		Truncated:    result.Truncated,
	})

	if d.history == nil {
		return
	}
	args, err := json.Marshal(req.Args)
	if err != nil {
		args = []byte("{}")
	}
	if _, err := d.history.Record(ctx, history.Entry{
		InvocationID: req.InvocationID,
		SessionKey:   req.SessionKey,
		Actor:        req.Actor,
		Tool:         req.Tool,
		Args:         d.redact(string(args)),
		Status:       status,
		Output:       d.redact(result.Text()),
		Truncated:    result.Truncated,
		DurationMS:   durationMS,
	}); err != nil {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Warn().Err(err).Str("tool", req.Tool).Msg("Failed to record tool call history")
	}
}

// ClearSession drops calls of a session that have not started yet
func (d *Dispatcher) ClearSession(sessionKey string) int {
	return d.queue.ClearLane(SessionLane(strings.TrimSpace(sessionKey)))
}

// Descriptors lists the registered tools in registration order
func (d *Dispatcher) Descriptors() []toolexecutor.ToolDefinition {
	return d.executor.Descriptors()
}

// ToolCount returns the number of registered tools
func (d *Dispatcher) ToolCount() int {
	return d.executor.GetToolCount()
}

// LaneStats reports queue depth per lane
func (d *Dispatcher) LaneStats() map[string]map[string]int {
	return d.queue.GetStats()
}

// History returns the backing store, nil when history is disabled
func (d *Dispatcher) History() *history.Store {
	return d.history
}
