package toolexecutor

import (
	"context"
	"path/filepath"
	"strings"
)

// ExecutionContext describes one call. The executor builds or fills it per
// invocation and hands it to the tool through the call's context.
type ExecutionContext struct {
	InvocationID string // generated when empty
	SessionKey   string
	WorkingDir   string      // overrides the workspace root for this call
	ToolPolicy   *ToolPolicy // overrides the executor policy for this call
}

type executionKey struct{}

// WithExecution returns ctx carrying ec. A nil ec leaves ctx unchanged.
func WithExecution(ctx context.Context, ec *ExecutionContext) context.Context {
	if ec == nil {
		return ctx
	}
	return context.WithValue(ctx, executionKey{}, ec)
}

// ExecutionFrom returns the ExecutionContext of the running call, or nil
func ExecutionFrom(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(executionKey{}).(*ExecutionContext)
	return ec
}

// CallDir returns the cleaned working directory requested for the running
// call, or fallback when none was.
func CallDir(ctx context.Context, fallback string) string {
	ec := ExecutionFrom(ctx)
	if ec == nil || strings.TrimSpace(ec.WorkingDir) == "" {
		return fallback
	}
	return filepath.Clean(ec.WorkingDir)
}
