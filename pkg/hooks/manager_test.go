package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, hooks ...Hook) *Manager {
	t.Helper()
	manager, err := NewManager(Config{Enabled: true, Logger: zerolog.Nop(), Hooks: hooks})
	require.NoError(t, err)
	return manager
}

func TestManagerTriggerExecutesHookScript(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "before.txt")
	manager := newManager(t, Hook{
		ID:     "log-before",
		Event:  "tool.before",
		Script: "echo before > " + outputPath,
	})

	require.NoError(t, manager.Trigger(context.Background(), EventToolBefore, "sh", nil))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "before\n", string(content))
}

func TestManagerTriggerInjectsCallDataIntoEnvironment(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "env.txt")
	manager := newManager(t, Hook{
		Event:  "tool.after",
		Script: `echo "$KITOOL_HOOK_EVENT:$KITOOL_HOOK_TOOL:$KITOOL_HOOK_SESSION_KEY:$KITOOL_HOOK_DURATION_MS" > ` + outputPath,
	})

	require.NoError(t, manager.Trigger(context.Background(), EventToolAfter, "read_file", map[string]interface{}{
		"session_key": "s-1",
		"duration_ms": 42,
	}))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "tool.after:read_file:s-1:42\n", string(content))
}

func TestManagerTriggerFiltersByTool(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "only-sh.txt")
	manager := newManager(t, Hook{
		Event:  "tool.before",
		Script: "echo hit >> " + outputPath,
		Tools:  []string{"sh"},
	})

	require.NoError(t, manager.Trigger(context.Background(), EventToolBefore, "read_file", nil))
	_, err := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, manager.Trigger(context.Background(), EventToolBefore, "sh", nil))
	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "hit\n", string(content))
}

func TestManagerTriggerReturnsJoinedBlockingErrors(t *testing.T) {
	manager := newManager(t,
		Hook{ID: "fail-1", Event: "tool.before", Script: "exit 2", Blocking: true},
		Hook{ID: "fail-2", Event: "tool.before", Script: "echo nope; exit 3", Blocking: true},
		Hook{ID: "soft", Event: "tool.before", Script: "exit 4"},
	)

	err := manager.Trigger(context.Background(), EventToolBefore, "sh", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook fail-1 failed")
	assert.Contains(t, err.Error(), "hook fail-2 failed")
	assert.Contains(t, err.Error(), "nope")
	assert.NotContains(t, err.Error(), "soft")
}

func TestManagerTriggerNonBlockingFailureIsNotReturned(t *testing.T) {
	manager := newManager(t, Hook{ID: "soft", Event: "tool.after", Script: "exit 1"})
	assert.NoError(t, manager.Trigger(context.Background(), EventToolAfter, "sh", nil))
}

func TestManagerTriggerRespectsTimeout(t *testing.T) {
	manager := newManager(t, Hook{
		ID:       "timeout",
		Event:    "tool.before",
		Script:   "sleep 1",
		Blocking: true,
		Timeout:  30 * time.Millisecond,
	})

	err := manager.Trigger(context.Background(), EventToolBefore, "sh", nil)
	require.Error(t, err)
	assert.True(t,
		strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "signal: killed"),
		"expected timeout-related error, got: %v",
		err,
	)
}

func TestNewManagerValidation(t *testing.T) {
	tests := []struct {
		name string
		hook Hook
		want string
	}{
		{"unknown event", Hook{Event: "daemon:startup", Script: "true"}, "unknown hook event"},
		{"missing script", Hook{Event: "tool.after", Script: " "}, "script is required"},
		{"blocking after hook", Hook{Event: "tool.after", Script: "true", Blocking: true}, "can be blocking"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(Config{Enabled: true, Hooks: []Hook{tt.hook}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestManagerDisabledAndNil(t *testing.T) {
	manager, err := NewManager(Config{Hooks: []Hook{{Event: "bogus"}}})
	require.NoError(t, err, "hooks are not validated while disabled")
	assert.NoError(t, manager.Trigger(context.Background(), EventToolBefore, "sh", nil))
	assert.Equal(t, 0, manager.Count(EventToolBefore))

	var nilManager *Manager
	assert.NoError(t, nilManager.Trigger(context.Background(), EventToolAfter, "sh", nil))
}

func TestManagerCount(t *testing.T) {
	manager := newManager(t,
		Hook{Event: "tool.before", Script: "true"},
		Hook{Event: " tool.before ", Script: "true"},
		Hook{Event: "tool.after", Script: "true"},
	)
	assert.Equal(t, 2, manager.Count(EventToolBefore))
	assert.Equal(t, 1, manager.Count(EventToolAfter))
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveHook(event string, failed bool, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, fmt.Sprintf("%s failed=%t", event, failed))
}

func TestManagerReportsRunsToObserver(t *testing.T) {
	observer := &recordingObserver{}
	manager, err := NewManager(Config{
		Enabled:  true,
		Logger:   zerolog.Nop(),
		Observer: observer,
		Hooks: []Hook{
			{Event: " tool.before ", Script: "true"},
			{Event: "tool.before", Script: "exit 1"},
			{Event: "tool.before", Script: "true", Tools: []string{"py"}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Trigger(context.Background(), EventToolBefore, "sh", nil))
	assert.Equal(t, []string{"tool.before failed=false", "tool.before failed=true"}, observer.calls)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"session_key":   "SESSION_KEY",
		"duration-ms":   "DURATION_MS",
		" actor ":       "ACTOR",
		"":              "UNKNOWN",
		"invocation.id": "INVOCATION_ID",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
