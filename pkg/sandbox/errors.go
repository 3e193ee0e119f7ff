package sandbox

import "errors"

var (
	// ErrShellRequired is returned when no interpreter is configured
	ErrShellRequired = errors.New("shell program is required")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidOutputLimit is returned when the output limit is invalid
	ErrInvalidOutputLimit = errors.New("invalid output limit (must be >= 0)")

	// ErrEmptyCommand is returned for a blank command line
	ErrEmptyCommand = errors.New("command is empty")

	// ErrLaunchFailed is returned when the interpreter cannot be started
	ErrLaunchFailed = errors.New("failed to launch command")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")
)
