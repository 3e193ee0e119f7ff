package snippet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/kitool/pkg/toolexecutor"
)

// timeoutGrace lets the runner report its own timeout, with partial output,
// before the dispatcher ceiling fires.
const timeoutGrace = 5 * time.Second

// RegisterTools registers the py snippet tool backed by runner.
func RegisterTools(executor *toolexecutor.ToolExecutor, runner *Runner) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if runner == nil {
		return errors.New("snippet runner is required")
	}

	tool := toolexecutor.ToolDefinition{
		Name: "py",
		Description: "Run a short JavaScript snippet and return what it printed, or \"ok\" if nothing was printed. " +
			"Available: print/console.log, xl (load, sheets, describe, groupby, toCSV), json (dumps, loads), " +
			"path (join, base, dir, ext, abs, exists, cwd).",
		Category: toolexecutor.CategoryCode,
		Timeout:  runner.Config().Timeout + timeoutGrace,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "code", Type: "string", Description: "Snippet source", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			return runner.Run(ctx, toolexecutor.StringParam(params, "code"))
		},
	}

	if err := executor.RegisterTool(tool); err != nil {
		return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
	}
	return nil
}
