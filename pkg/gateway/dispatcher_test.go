package gateway

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/kitool/internal/observability"
	"github.com/harun/kitool/pkg/commandqueue"
	"github.com/harun/kitool/pkg/history"
	"github.com/harun/kitool/pkg/hooks"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherEnv struct {
	dispatcher *Dispatcher
	queue      *commandqueue.CommandQueue
	history    *history.Store
	audit      *bytes.Buffer
	calls      atomic.Int32
	release    chan struct{}
}

func newDispatcherEnv(t *testing.T) *dispatcherEnv {
	t.Helper()
	return newConfiguredDispatcherEnv(t, func(*DispatcherConfig) {})
}

func newConfiguredDispatcherEnv(t *testing.T, configure func(*DispatcherConfig)) *dispatcherEnv {
	t.Helper()
	env := &dispatcherEnv{audit: &bytes.Buffer{}, release: make(chan struct{})}

	executor := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "Echo a message",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "message", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			env.calls.Add(1)
			return toolexecutor.StringParam(params, "message"), nil
		},
	}))
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "block",
		Description: "Wait until released",
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			select {
			case <-env.release:
				return "released", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}))
	executor.Seal()

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env.queue = commandqueue.New(commandqueue.Options{DedupTTL: time.Minute})
	t.Cleanup(func() { _ = env.queue.Close() })

	env.history = store
	cfg := DispatcherConfig{
		Executor: executor,
		Queue:    env.queue,
		Audit:    observability.NewAuditLogger(env.audit),
		History:  store,
	}
	configure(&cfg)
	env.dispatcher, err = NewDispatcher(cfg)
	require.NoError(t, err)
	return env
}

func TestNewDispatcher_RequiresDependencies(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{Queue: commandqueue.New(commandqueue.Options{})})
	assert.Error(t, err)

	_, err = NewDispatcher(DispatcherConfig{Executor: toolexecutor.New(toolexecutor.Options{})})
	assert.Error(t, err)
}

func TestSessionLane(t *testing.T) {
	assert.Equal(t, commandqueue.DefaultLane, SessionLane(""))
	assert.Equal(t, "session:abc", SessionLane("abc"))
}

func TestDispatcher_Call(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()

	result, err := env.dispatcher.Call(ctx, CallRequest{
		Tool:         "echo",
		Args:         map[string]interface{}{"message": "hi"},
		SessionKey:   "s1",
		InvocationID: "inv-1",
		Actor:        "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text)
	assert.Equal(t, "inv-1", result.InvocationID)
	assert.False(t, result.IsError)

	assert.Contains(t, env.audit.String(), `"action":"execute:echo"`)
	assert.Contains(t, env.audit.String(), `"session_key":"s1"`)

	entries, err := env.history.List(ctx, history.Query{SessionKey: "s1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "echo", entries[0].Tool)
	assert.Equal(t, "inv-1", entries[0].InvocationID)
	assert.Equal(t, "test", entries[0].Actor)
	assert.Equal(t, "success", entries[0].Status)
	assert.JSONEq(t, `{"message":"hi"}`, entries[0].Args)
	assert.Equal(t, "hi", entries[0].Output)
}

func TestDispatcher_Call_ToolFailureIsText(t *testing.T) {
	env := newDispatcherEnv(t)

	result, err := env.dispatcher.Call(context.Background(), CallRequest{Tool: "echo"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.True(t, toolexecutor.IsError(result.Text))
	assert.Len(t, result.InvocationID, 36)

	entries, err := env.history.List(context.Background(), history.Query{Status: string(toolexecutor.KindValidation)})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int32(0), env.calls.Load())
}

func TestDispatcher_Call_IdempotencyKey(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()

	first, err := env.dispatcher.Call(ctx, CallRequest{
		Tool: "echo", Args: map[string]interface{}{"message": "one"}, SessionKey: "s", IdempotencyKey: "k",
	})
	require.NoError(t, err)
	second, err := env.dispatcher.Call(ctx, CallRequest{
		Tool: "echo", Args: map[string]interface{}{"message": "two"}, SessionKey: "s", IdempotencyKey: "k",
	})
	require.NoError(t, err)

	assert.Equal(t, "one", first.Text)
	assert.Equal(t, "one", second.Text)
	assert.Equal(t, int32(1), env.calls.Load())
}

func TestDispatcher_Call_CancelledWhileQueued(t *testing.T) {
	env := newDispatcherEnv(t)

	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		_, _ = env.dispatcher.Call(context.Background(), CallRequest{Tool: "block", SessionKey: "s"})
	}()
	require.Eventually(t, func() bool {
		return env.dispatcher.LaneStats()["session:s"]["running"] == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Call(ctx, CallRequest{
			Tool: "echo", Args: map[string]interface{}{"message": "hi"}, SessionKey: "s", IdempotencyKey: "k",
		})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		return env.dispatcher.LaneStats()["session:s"]["queued"] == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("cancelled call still blocked behind the running one")
	}

	close(env.release)
	<-blocked

	retry, err := env.dispatcher.Call(context.Background(), CallRequest{
		Tool: "echo", Args: map[string]interface{}{"message": "hi"}, SessionKey: "s", IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", retry.Text, "the retry runs instead of replaying the cancellation")
	assert.Equal(t, int32(1), env.calls.Load())
}

func TestDispatcher_Call_CancelledWhileRunning(t *testing.T) {
	env := newDispatcherEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Call(ctx, CallRequest{
			Tool: "block", SessionKey: "s", InvocationID: "inv-cancel", IdempotencyKey: "k",
		})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		return env.dispatcher.LaneStats()["session:s"]["running"] == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	require.Eventually(t, func() bool {
		n, err := env.history.Count(context.Background())
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond, "the interrupted call is still recorded")
	entries, err := env.history.List(context.Background(), history.Query{SessionKey: "s"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inv-cancel", entries[0].InvocationID)
	assert.NotEqual(t, "success", entries[0].Status)
}

func TestDispatcher_ClearSession(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()

	blocked := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Call(ctx, CallRequest{Tool: "block", SessionKey: "busy"})
		blocked <- err
	}()
	require.Eventually(t, func() bool {
		return env.dispatcher.LaneStats()["session:busy"]["running"] == 1
	}, time.Second, 5*time.Millisecond)

	queued := make(chan error, 1)
	go func() {
		_, err := env.dispatcher.Call(ctx, CallRequest{Tool: "echo", Args: map[string]interface{}{"message": "later"}, SessionKey: "busy"})
		queued <- err
	}()
	require.Eventually(t, func() bool {
		return env.dispatcher.LaneStats()["session:busy"]["queued"] == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, env.dispatcher.ClearSession(" busy "))
	assert.True(t, errors.Is(<-queued, commandqueue.ErrLaneCleared))

	close(env.release)
	assert.NoError(t, <-blocked)
	assert.Equal(t, int32(0), env.calls.Load())
}

func TestDispatcher_Accessors(t *testing.T) {
	env := newDispatcherEnv(t)

	assert.Equal(t, 2, env.dispatcher.ToolCount())
	assert.Equal(t, "echo", env.dispatcher.Descriptors()[0].Name)
	assert.Same(t, env.history, env.dispatcher.History())
}

func TestDispatcher_Hooks(t *testing.T) {
	afterPath := filepath.Join(t.TempDir(), "after.txt")
	hookManager, err := hooks.NewManager(hooks.Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks: []hooks.Hook{
			{ID: "no-block", Event: "tool.before", Script: "exit 1", Tools: []string{"block"}, Blocking: true},
			{Event: "tool.after", Script: `echo "$KITOOL_HOOK_TOOL $KITOOL_HOOK_STATUS $KITOOL_HOOK_ACTOR" >> ` + afterPath},
		},
	})
	require.NoError(t, err)
	env := newConfiguredDispatcherEnv(t, func(cfg *DispatcherConfig) { cfg.Hooks = hookManager })

	result, err := env.dispatcher.Call(context.Background(), CallRequest{
		Tool:  "echo",
		Args:  map[string]interface{}{"message": "hi"},
		Actor: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text)

	content, err := os.ReadFile(afterPath)
	require.NoError(t, err)
	assert.Equal(t, "echo success test\n", string(content))

	result, err = env.dispatcher.Call(context.Background(), CallRequest{Tool: "block", Actor: "test"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text, "blocked by hook")
	assert.Contains(t, result.Text, "hook no-block failed")

	entries, err := env.history.List(context.Background(), history.Query{Tool: "block"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "validation", entries[0].Status)

	content, err = os.ReadFile(afterPath)
	require.NoError(t, err)
	assert.Equal(t, "echo success test\n", string(content), "refused calls skip tool.after")
}

func TestDispatcher_RedactsHistory(t *testing.T) {
	env := newConfiguredDispatcherEnv(t, func(cfg *DispatcherConfig) {
		cfg.Redact = func(s string) string { return strings.ReplaceAll(s, "hunter2", "[REDACTED]") }
	})

	result, err := env.dispatcher.Call(context.Background(), CallRequest{
		Tool: "echo",
		Args: map[string]interface{}{"message": "password hunter2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "password hunter2", result.Text, "callers get the raw output")

	entries, err := env.history.List(context.Background(), history.Query{Tool: "echo"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"message":"password [REDACTED]"}`, entries[0].Args)
	assert.Equal(t, "password [REDACTED]", entries[0].Output)
}
