package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HostSandbox runs commands through the host's interpreter with a wall-clock
// ceiling. It contains runaway commands; it does not isolate them.
type HostSandbox struct {
	config Config
}

// NewHostSandbox creates a new host-based sandbox
func NewHostSandbox(config Config) (*HostSandbox, error) {
	defaults := DefaultConfig()
	if config.Shell.Program == "" {
		config.Shell = defaults.Shell
	}
	if config.ResourceLimits.Timeout == 0 {
		config.ResourceLimits.Timeout = defaults.ResourceLimits.Timeout
	}
	if config.ResourceLimits.MaxOutputBytes == 0 {
		config.ResourceLimits.MaxOutputBytes = defaults.ResourceLimits.MaxOutputBytes
	}
	if config.ResourceLimits.WaitDelay == 0 {
		config.ResourceLimits.WaitDelay = defaults.ResourceLimits.WaitDelay
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HostSandbox{config: config}, nil
}

// GetConfig returns the sandbox configuration
func (h *HostSandbox) GetConfig() Config {
	return h.config
}

// Execute runs a command line through the configured interpreter.
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{}, ErrEmptyCommand
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = h.config.ResourceLimits.Timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, h.config.Shell.Args...), req.Command)
	cmd := exec.CommandContext(execCtx, h.config.Shell.Program, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = h.buildEnvironment(req.Env)
	cmd.WaitDelay = h.config.ResourceLimits.WaitDelay
	configureProcess(cmd)

	stdout := newCappedBuffer(h.config.ResourceLimits.MaxOutputBytes)
	stderr := newCappedBuffer(h.config.ResourceLimits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("shell", h.config.Shell.Program).Msg("Command launch failed")
		return ExecuteResult{}, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	err := cmd.Wait()
	duration := time.Since(start)

	result := ExecuteResult{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  duration,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	// Check for timeout first
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		log.Warn().
			Dur("timeout", timeout).
			Int("partial_bytes", len(result.Stdout)+len(result.Stderr)).
			Msg("Command timed out and was killed")
		return result, fmt.Errorf("%w after %v", ErrExecutionTimeout, timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay):
			// a background child kept the pipes open; the shell itself exited
		default:
			return result, err
		}
	}

	log.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Bool("truncated", result.Truncated).
		Msg("Command executed")

	return result, nil
}

// buildEnvironment layers configured and per-request variables over the
// inherited environment.
func (h *HostSandbox) buildEnvironment(env map[string]string) []string {
	result := os.Environ()
	for _, extra := range []map[string]string{h.config.Env, env} {
		keys := make([]string, 0, len(extra))
		for key := range extra {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			result = append(result, fmt.Sprintf("%s=%s", key, extra[key]))
		}
	}
	return result
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes, so the child never blocks on a pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}

func (c *cappedBuffer) Truncated() bool {
	return c.truncated
}
