// Package workspace anchors tool paths to a root directory.
//
// Relative paths given to file and spreadsheet tools resolve against the
// workspace root, or against the working directory carried by the call's
// ExecutionContext when one is set. With Restrict enabled, any path that
// leaves the root is rejected as a validation error.
//
// Example usage:
//
//	ws := workspace.New("~/projects/reports", true)
//	target, err := ws.Resolve(ctx, "q3/sales.xlsx")
//	if err != nil {
//		return "", err
//	}
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/kitool/pkg/toolexecutor"
)

// Workspace is an immutable root directory plus its escape policy.
type Workspace struct {
	root     string
	restrict bool
}

// New creates a workspace rooted at root. An empty root selects the process
// working directory; a leading "~" expands to the user's home directory.
func New(root string, restrict bool) *Workspace {
	return &Workspace{root: absRoot(root), restrict: restrict}
}

// Root returns the directory relative paths are anchored to for this call.
func (w *Workspace) Root(ctx context.Context) string {
	return toolexecutor.CallDir(ctx, w.root)
}

// Restricted reports whether paths outside the root are rejected.
func (w *Workspace) Restricted() bool {
	return w.restrict
}

// Resolve turns a tool path argument into a clean absolute path.
func (w *Workspace) Resolve(ctx context.Context, pathValue string) (string, error) {
	return ResolvePath(w.Root(ctx), pathValue, w.restrict)
}

// ResolvePath makes pathValue absolute against root. With restrict set,
// paths that leave root are rejected.
func ResolvePath(root string, pathValue string, restrict bool) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", toolexecutor.Validationf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", toolexecutor.Validationf("path must be a local file: %s", pathValue)
	}

	candidate := expandHome(pathValue)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !restrict {
		return candidate, nil
	}

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", toolexecutor.ValidationError(err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", toolexecutor.Validationf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}

func absRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	root = expandHome(root)
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
