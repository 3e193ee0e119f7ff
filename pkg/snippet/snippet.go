// Package snippet runs short agent-authored JavaScript fragments in an
// embedded interpreter and returns what they printed.
//
// Every call gets a fresh runtime whose global namespace holds only the
// whitelisted helpers installed by this package: print and console.log,
// the xl spreadsheet helpers, json and path. Nothing persists between calls.
// Each run is bounded by a wall-clock timeout, a sampled heap ceiling, an
// output cap and a call stack depth.
package snippet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/harun/kitool/pkg/workspace"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout is the wall-clock ceiling for one snippet
	DefaultTimeout = 30 * time.Second
	// DefaultMaxMemoryMB caps heap growth while a snippet runs
	DefaultMaxMemoryMB = 256
	// DefaultMaxOutputBytes caps captured output
	DefaultMaxOutputBytes = 1 << 20
	// DefaultMaxCallStack caps JavaScript call depth
	DefaultMaxCallStack = 1024

	// EmptyOutput is returned when a snippet prints nothing.
	EmptyOutput = "ok"
)

var (
	// ErrSnippetTimeout is returned when a snippet exceeds its wall-clock ceiling
	ErrSnippetTimeout = errors.New("snippet timed out")

	// ErrMemoryLimit is returned when heap growth exceeds the configured ceiling
	ErrMemoryLimit = errors.New("snippet exceeded memory limit")

	// ErrOutputLimit is returned when a snippet prints more than allowed
	ErrOutputLimit = errors.New("snippet exceeded output limit")

	// ErrStackOverflow is returned when the call stack grows past its ceiling
	ErrStackOverflow = errors.New("snippet exceeded maximum call stack size")
)

// Config bounds snippet execution.
type Config struct {
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxMemoryMB    int           `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	MaxOutputBytes int           `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	MaxCallStack   int           `json:"max_call_stack" mapstructure:"max_call_stack"`
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.MaxCallStack <= 0 {
		c.MaxCallStack = DefaultMaxCallStack
	}
	return c
}

// Runner executes snippets. It holds no per-call state and is safe for
// concurrent use.
type Runner struct {
	cfg Config
	ws  *workspace.Workspace
}

// NewRunner creates a runner. A nil workspace anchors paths at the process
// working directory.
func NewRunner(cfg Config, ws *workspace.Workspace) *Runner {
	if ws == nil {
		ws = workspace.New("", false)
	}
	return &Runner{cfg: cfg.withDefaults(), ws: ws}
}

// Config returns the effective limits.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run executes code and returns its captured output, or EmptyOutput when
// nothing was printed. Failures are returned as *toolexecutor.ToolError;
// a timeout or output overflow carries whatever was printed before it.
func (r *Runner) Run(ctx context.Context, code string) (result string, err error) {
	start := time.Now()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(r.cfg.MaxCallStack)

	out := newOutput(r.cfg.MaxOutputBytes)
	ns := &namespace{ctx: ctx, vm: vm, ws: r.ws, out: out}
	if err := ns.install(); err != nil {
		return "", toolexecutor.ExecutionError(fmt.Errorf("prepare snippet runtime: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go watch(runCtx, vm, int64(r.cfg.MaxMemoryMB)<<20, done)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Snippet runtime panicked")
			result, err = "", toolexecutor.ExecutionError(fmt.Errorf("snippet panicked: %v", p))
		}
	}()

	_, runErr := vm.RunString(code)

	log.Debug().
		Dur("duration", time.Since(start)).
		Int("output_bytes", out.Len()).
		Bool("failed", runErr != nil).
		Msg("Snippet finished")

	if runErr != nil {
		return "", r.classify(runErr, out)
	}
	if out.Len() == 0 {
		return EmptyOutput, nil
	}
	return out.String(), nil
}

// classify maps an interpreter error onto the tool error taxonomy.
func (r *Runner) classify(err error, out *output) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, _ := interrupted.Value().(error)
		switch {
		case errors.Is(cause, ErrSnippetTimeout):
			return toolexecutor.TimeoutError(fmt.Errorf("%w after %v", ErrSnippetTimeout, r.cfg.Timeout), out.String())
		case errors.Is(cause, ErrOutputLimit):
			return &toolexecutor.ToolError{
				Kind:    toolexecutor.KindExecution,
				Err:     fmt.Errorf("%w of %d bytes", ErrOutputLimit, r.cfg.MaxOutputBytes),
				Partial: out.String(),
			}
		case errors.Is(cause, ErrMemoryLimit):
			return toolexecutor.ExecutionError(fmt.Errorf("%w of %d MB", ErrMemoryLimit, r.cfg.MaxMemoryMB))
		case cause != nil:
			return toolexecutor.ExecutionError(cause)
		}
		return toolexecutor.ExecutionError(err)
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return toolexecutor.ExecutionError(fmt.Errorf("%w (%d)", ErrStackOverflow, r.cfg.MaxCallStack))
	}
	return toolexecutor.ExecutionError(err)
}
