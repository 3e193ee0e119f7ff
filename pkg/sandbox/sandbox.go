package sandbox

import (
	"context"
	"runtime"
	"time"
)

const (
	// DefaultTimeout is the wall-clock ceiling for one command
	DefaultTimeout = 60 * time.Second
	// DefaultMaxOutputBytes caps each captured stream
	DefaultMaxOutputBytes = 1 << 20
	// DefaultWaitDelay bounds the wait for pipes after the process is killed
	DefaultWaitDelay = 2 * time.Second
)

// ShellConfig selects the command interpreter
type ShellConfig struct {
	// Program is the interpreter binary (default /bin/sh, cmd on Windows)
	Program string `json:"program" mapstructure:"program"`

	// Args precede the command string (default -c, /C on Windows)
	Args []string `json:"args" mapstructure:"args"`
}

// ResourceLimits defines resource constraints for sandboxed execution
type ResourceLimits struct {
	// Timeout limits execution time
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxOutputBytes caps each of stdout and stderr
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`

	// WaitDelay bounds pipe draining after the process exits or is killed
	WaitDelay time.Duration `json:"wait_delay" mapstructure:"wait_delay"`
}

// Config defines sandbox configuration
type Config struct {
	Shell          ShellConfig       `json:"shell" mapstructure:"shell"`
	ResourceLimits ResourceLimits    `json:"resource_limits" mapstructure:"resource_limits"`
	Env            map[string]string `json:"env" mapstructure:"env"`
}

// ExecuteRequest represents a sandbox execution request
type ExecuteRequest struct {
	// Command is the command line handed to the interpreter
	Command string `json:"command"`

	// Env are extra environment variables
	Env map[string]string `json:"env"`

	// WorkingDir is the working directory
	WorkingDir string `json:"working_dir"`

	// Stdin is the standard input
	Stdin []byte `json:"stdin"`

	// Timeout overrides the configured timeout when positive
	Timeout time.Duration `json:"timeout"`
}

// ExecuteResult represents a sandbox execution result
type ExecuteResult struct {
	Stdout    []byte        `json:"stdout"`
	Stderr    []byte        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
}

// Combined returns stdout followed by stderr.
func (r ExecuteResult) Combined() string {
	return string(r.Stdout) + string(r.Stderr)
}

// Sandbox defines the interface for bounded command execution
type Sandbox interface {
	// Execute runs a command; on timeout it returns the partial result
	// together with ErrExecutionTimeout.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)

	// GetConfig returns the sandbox configuration
	GetConfig() Config
}

// DefaultShell returns the host's default interpreter and its flags.
func DefaultShell() ShellConfig {
	if runtime.GOOS == "windows" {
		return ShellConfig{Program: "cmd", Args: []string{"/C"}}
	}
	return ShellConfig{Program: "/bin/sh", Args: []string{"-c"}}
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Shell: DefaultShell(),
		ResourceLimits: ResourceLimits{
			Timeout:        DefaultTimeout,
			MaxOutputBytes: DefaultMaxOutputBytes,
			WaitDelay:      DefaultWaitDelay,
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.Shell.Program == "" {
		return ErrShellRequired
	}

	if cfg.ResourceLimits.Timeout < 0 {
		return ErrInvalidTimeout
	}

	if cfg.ResourceLimits.MaxOutputBytes < 0 {
		return ErrInvalidOutputLimit
	}

	if cfg.ResourceLimits.WaitDelay < 0 {
		return ErrInvalidTimeout
	}

	return nil
}
