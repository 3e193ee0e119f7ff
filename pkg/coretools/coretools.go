package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/kitool/pkg/sandbox"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/harun/kitool/pkg/workspace"
	"github.com/rs/zerolog/log"
)

// timeoutGrace lets the command executor report its own timeout (with partial
// output) before the dispatcher ceiling fires.
const timeoutGrace = 5 * time.Second

// Options configures core tool registration.
type Options struct {
	Workspace    *workspace.Workspace
	Sandbox      sandbox.Sandbox
	ShellTimeout time.Duration
	ReadMaxChars int
}

// RegisterCoreTools registers the shell and text-file tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Sandbox == nil {
		return errors.New("sandbox is required")
	}
	if opts.Workspace == nil {
		opts.Workspace = workspace.New("", false)
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = opts.Sandbox.GetConfig().ResourceLimits.Timeout
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = sandbox.DefaultTimeout
	}
	if opts.ReadMaxChars <= 0 {
		opts.ReadMaxChars = DefaultMaxChars
	}

	tools := []toolexecutor.ToolDefinition{
		shTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func shTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "sh",
		Description: "Run a shell command. Returns combined stdout and stderr as text.",
		Category:    toolexecutor.CategoryShell,
		Timeout:     opts.ShellTimeout + timeoutGrace,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "cmd", Type: "string", Description: "Command line to execute via the system shell", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			command := toolexecutor.StringParam(params, "cmd")
			if strings.TrimSpace(command) == "" {
				return "", toolexecutor.Validationf("cmd is required")
			}

			res, err := opts.Sandbox.Execute(ctx, sandbox.ExecuteRequest{
				Command:    command,
				WorkingDir: opts.Workspace.Root(ctx),
				Timeout:    opts.ShellTimeout,
			})
			switch {
			case errors.Is(err, sandbox.ErrExecutionTimeout):
				return "", toolexecutor.TimeoutError(err, res.Combined())
			case err != nil:
				return "", toolexecutor.ExecutionError(err)
			}

			log.Debug().
				Int("exit_code", res.ExitCode).
				Dur("duration", res.Duration).
				Msg("Shell command finished")

			return res.Combined(), nil
		},
	}
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	minChars := 0.0
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a UTF-8 text file and return its content, truncated after max_chars characters.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "File path to read", Required: true},
			{Name: "max_chars", Type: "integer", Description: "Maximum number of characters to return", Default: opts.ReadMaxChars, Minimum: &minChars},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			target, err := opts.Workspace.Resolve(ctx, toolexecutor.StringParam(params, "path"))
			if err != nil {
				return "", err
			}
			maxChars, err := toolexecutor.IntParam(params, "max_chars", opts.ReadMaxChars)
			if err != nil {
				return "", err
			}
			return ReadText(target, maxChars)
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write UTF-8 text to a file, creating parent folders as needed. Overwrites existing content.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Target file path", Required: true},
			{Name: "content", Type: "string", Description: "Text to write", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			pathValue := toolexecutor.StringParam(params, "path")
			target, err := opts.Workspace.Resolve(ctx, pathValue)
			if err != nil {
				return "", err
			}
			if err := WriteText(target, toolexecutor.StringParam(params, "content")); err != nil {
				return "", err
			}
			return "saved:" + pathValue, nil
		},
	}
}
