// Package hooks runs operator shell scripts around tool calls.
//
// A tool.before hook sees the call before it runs; when it is marked
// blocking and exits non-zero the call is refused. A tool.after hook sees
// the outcome. Call data reaches the script as KITOOL_HOOK_* variables.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Event names a point in a tool call's life
type Event string

const (
	// EventToolBefore fires after a call is dequeued, before the tool runs
	EventToolBefore Event = "tool.before"
	// EventToolAfter fires once the result is known
	EventToolAfter Event = "tool.after"
)

// ParseEvent resolves a configured event name.
func ParseEvent(name string) (Event, error) {
	switch e := Event(strings.TrimSpace(name)); e {
	case EventToolBefore, EventToolAfter:
		return e, nil
	default:
		return "", fmt.Errorf("unknown hook event %q (want %s or %s)", name, EventToolBefore, EventToolAfter)
	}
}

// Hook is one script bound to an event. Tools limits it to those tool
// names; empty means every tool.
type Hook struct {
	ID       string
	Event    string
	Script   string
	Tools    []string
	Timeout  time.Duration
	Blocking bool
}

// Observer is told about every hook run
type Observer interface {
	ObserveHook(event string, failed bool, duration time.Duration)
}

// Config configures a Manager
type Config struct {
	Enabled  bool
	Shell    string // defaults to /bin/sh
	Hooks    []Hook
	Logger   zerolog.Logger
	Observer Observer
}

const defaultShell = "/bin/sh"

// Manager runs the configured hooks. Its hook set is fixed at creation, so
// a Manager is safe for concurrent use. A nil or disabled Manager does
// nothing.
type Manager struct {
	shell    string
	logger   zerolog.Logger
	observer Observer
	byEvent  map[Event][]Hook
}

// NewManager validates cfg and indexes its hooks by event. Hooks are not
// validated while cfg.Enabled is false.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		shell:    strings.TrimSpace(cfg.Shell),
		logger:   cfg.Logger.With().Str("component", "hooks").Logger(),
		observer: cfg.Observer,
		byEvent:  make(map[Event][]Hook),
	}
	if m.shell == "" {
		m.shell = defaultShell
	}
	if !cfg.Enabled {
		return m, nil
	}

	for i, hook := range cfg.Hooks {
		event, err := ParseEvent(hook.Event)
		if err != nil {
			return nil, err
		}
		switch {
		case strings.TrimSpace(hook.Script) == "":
			return nil, fmt.Errorf("hook script is required for event %q", event)
		case hook.Blocking && event != EventToolBefore:
			return nil, fmt.Errorf("only %s hooks can be blocking", EventToolBefore)
		}
		if strings.TrimSpace(hook.ID) == "" {
			hook.ID = fmt.Sprintf("%s#%d", event, i)
		}
		hook.Event = string(event)
		m.byEvent[event] = append(m.byEvent[event], hook)
	}
	return m, nil
}

// Count returns the number of hooks bound to event
func (m *Manager) Count(event Event) int {
	if m == nil {
		return 0
	}
	return len(m.byEvent[event])
}

// Trigger runs, in configuration order, every hook bound to event that
// applies to tool. Failures of non-blocking hooks are only logged; the
// returned error joins the failures of blocking hooks.
func (m *Manager) Trigger(ctx context.Context, event Event, tool string, data map[string]interface{}) error {
	if m.Count(event) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var env []string
	var errs []error
	for _, hook := range m.byEvent[event] {
		if !appliesTo(hook, tool) {
			continue
		}
		if env == nil {
			env = hookEnv(event, tool, data)
		}

		err := m.run(ctx, hook, env)
		switch {
		case err == nil:
		case hook.Blocking:
			errs = append(errs, err)
		default:
			m.logger.Warn().Err(err).Str("event", string(event)).Str("tool", tool).Msg("Hook failed")
		}
	}
	return errors.Join(errs...)
}

func appliesTo(hook Hook, tool string) bool {
	if len(hook.Tools) == 0 {
		return true
	}
	for _, name := range hook.Tools {
		if name == tool {
			return true
		}
	}
	return false
}

// run executes one hook script with its own timeout
func (m *Manager) run(ctx context.Context, hook Hook, env []string) error {
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, m.shell, "-c", hook.Script)
	cmd.Env = env

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if m.observer != nil {
		m.observer.ObserveHook(hook.Event, err != nil, time.Since(start))
	}

	text := strings.TrimSpace(string(output))
	switch {
	case err != nil && text != "":
		return fmt.Errorf("hook %s failed: %w: %s", hook.ID, err, text)
	case err != nil:
		return fmt.Errorf("hook %s failed: %w", hook.ID, err)
	case text != "":
		m.logger.Debug().Str("hook_id", hook.ID).Str("output", text).Msg("Hook executed")
	}
	return nil
}

// hookEnv is the process environment plus KITOOL_HOOK_EVENT,
// KITOOL_HOOK_TOOL and one KITOOL_HOOK_<KEY> per data entry.
func hookEnv(event Event, tool string, data map[string]interface{}) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	env = append(env, "KITOOL_HOOK_EVENT="+string(event), "KITOOL_HOOK_TOOL="+tool)
	for _, key := range keys {
		env = append(env, fmt.Sprintf("KITOOL_HOOK_%s=%v", envKey(key), data[key]))
	}
	return env
}

// envKey upper-cases key and maps anything outside [A-Z0-9] to '_'
func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}
