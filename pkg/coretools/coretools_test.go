package coretools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/harun/kitool/pkg/sandbox"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/harun/kitool/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, opts Options) (*toolexecutor.ToolExecutor, string) {
	t.Helper()
	return newRestrictedExecutor(t, opts, false)
}

func newRestrictedExecutor(t *testing.T, opts Options, restrict bool) (*toolexecutor.ToolExecutor, string) {
	t.Helper()

	root := t.TempDir()
	opts.Workspace = workspace.New(root, restrict)
	if opts.Sandbox == nil {
		sb, err := sandbox.NewHostSandbox(sandbox.Config{})
		require.NoError(t, err)
		opts.Sandbox = sb
	}

	executor := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, RegisterCoreTools(executor, opts))
	executor.Seal()
	return executor, root
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}
}

func TestRegisterCoreTools(t *testing.T) {
	executor, _ := newTestExecutor(t, Options{})
	assert.Equal(t, []string{"sh", "read_file", "write_file"}, executor.ListTools())

	err := RegisterCoreTools(nil, Options{})
	assert.Error(t, err)

	err = RegisterCoreTools(toolexecutor.New(toolexecutor.Options{}), Options{})
	assert.Error(t, err)
}

func TestShTool(t *testing.T) {
	skipOnWindows(t)
	executor, _ := newTestExecutor(t, Options{})
	ctx := context.Background()

	t.Run("echo", func(t *testing.T) {
		out := executor.Invoke(ctx, "sh", map[string]interface{}{"cmd": "echo hi"})
		assert.Equal(t, "hi\n", out)
	})

	t.Run("stdout before stderr", func(t *testing.T) {
		out := executor.Invoke(ctx, "sh", map[string]interface{}{"cmd": "echo err >&2; echo out"})
		assert.Equal(t, "out\nerr\n", out)
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		out := executor.Invoke(ctx, "sh", map[string]interface{}{"cmd": "echo failing >&2; exit 3"})
		assert.Equal(t, "failing\n", out)
		assert.False(t, toolexecutor.IsError(out))
	})

	t.Run("empty output", func(t *testing.T) {
		out := executor.Invoke(ctx, "sh", map[string]interface{}{"cmd": "true"})
		assert.Equal(t, "", out)
	})

	t.Run("missing cmd", func(t *testing.T) {
		out := executor.Invoke(ctx, "sh", map[string]interface{}{})
		assert.True(t, toolexecutor.IsError(out))
	})

	t.Run("blank cmd", func(t *testing.T) {
		out := executor.Invoke(ctx, "sh", map[string]interface{}{"cmd": "   "})
		assert.Equal(t, "error:cmd is required", out)
	})
}

func TestShTool_WorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	executor, root := newTestExecutor(t, Options{})

	out := executor.Invoke(context.Background(), "sh", map[string]interface{}{"cmd": "pwd"})
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other := t.TempDir()
	result := executor.Execute(context.Background(), "sh", map[string]interface{}{"cmd": "pwd"},
		&toolexecutor.ExecutionContext{WorkingDir: other})
	require.True(t, result.Success)
	want, err = filepath.EvalSymlinks(other)
	require.NoError(t, err)
	got, err = filepath.EvalSymlinks(strings.TrimSpace(result.Output))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestShTool_Timeout(t *testing.T) {
	skipOnWindows(t)
	executor, _ := newTestExecutor(t, Options{ShellTimeout: 300 * time.Millisecond})

	start := time.Now()
	result := executor.Execute(context.Background(), "sh",
		map[string]interface{}{"cmd": "echo started; sleep 10; echo never"}, nil)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, toolexecutor.KindTimeout, result.Kind)
	assert.True(t, strings.HasPrefix(result.Error, "error:"))
	assert.Contains(t, result.Error, "timed out")
	assert.True(t, strings.HasSuffix(result.Error, "\nstarted\n"))
	assert.NotContains(t, result.Error, "never")
	assert.Less(t, elapsed, 5*time.Second)
}

func TestShTool_LaunchFailure(t *testing.T) {
	sb, err := sandbox.NewHostSandbox(sandbox.Config{
		Shell: sandbox.ShellConfig{Program: "/nonexistent/shell", Args: []string{"-c"}},
	})
	require.NoError(t, err)
	executor, _ := newTestExecutor(t, Options{Sandbox: sb})

	result := executor.Execute(context.Background(), "sh", map[string]interface{}{"cmd": "echo hi"}, nil)
	assert.False(t, result.Success)
	assert.Equal(t, toolexecutor.KindExecution, result.Kind)
	assert.True(t, strings.HasPrefix(result.Error, "error:"))
}

func TestWriteThenRead(t *testing.T) {
	executor, root := newTestExecutor(t, Options{})
	ctx := context.Background()
	content := "héllo wörld\nline two\n"

	out := executor.Invoke(ctx, "write_file", map[string]interface{}{
		"path":    "nested/dir/notes.txt",
		"content": content,
	})
	assert.Equal(t, "saved:nested/dir/notes.txt", out)

	onDisk, err := os.ReadFile(filepath.Join(root, "nested", "dir", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, string(onDisk))

	out = executor.Invoke(ctx, "read_file", map[string]interface{}{"path": "nested/dir/notes.txt"})
	assert.Equal(t, content, out)
}

func TestWriteFile_Overwrites(t *testing.T) {
	executor, root := newTestExecutor(t, Options{})
	ctx := context.Background()
	target := filepath.Join(root, "a.txt")

	executor.Invoke(ctx, "write_file", map[string]interface{}{"path": target, "content": "first version"})
	out := executor.Invoke(ctx, "write_file", map[string]interface{}{"path": target, "content": "v2"})
	assert.Equal(t, "saved:"+target, out)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestWriteFile_EmptyContent(t *testing.T) {
	executor, root := newTestExecutor(t, Options{})

	out := executor.Invoke(context.Background(), "write_file", map[string]interface{}{"path": "empty.txt", "content": ""})
	assert.Equal(t, "saved:empty.txt", out)

	info, err := os.Stat(filepath.Join(root, "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestReadFile_Truncation(t *testing.T) {
	executor, root := newTestExecutor(t, Options{})
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(root, "letters.txt"), []byte("abcdefghij"), 0644))

	tests := []struct {
		name     string
		maxChars interface{}
		want     string
	}{
		{name: "cut", maxChars: 5, want: "abcde...[truncated]"},
		{name: "exact length", maxChars: 10, want: "abcdefghij"},
		{name: "longer limit", maxChars: 100, want: "abcdefghij"},
		{name: "zero", maxChars: 0, want: "...[truncated]"},
		{name: "float integral", maxChars: float64(3), want: "abc...[truncated]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := executor.Invoke(ctx, "read_file", map[string]interface{}{"path": "letters.txt", "max_chars": tt.maxChars})
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestReadFile_CountsCharactersNotBytes(t *testing.T) {
	executor, root := newTestExecutor(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "u.txt"), []byte("äöüß"), 0644))

	out := executor.Invoke(context.Background(), "read_file", map[string]interface{}{"path": "u.txt", "max_chars": 2})
	assert.Equal(t, "äö...[truncated]", out)
}

func TestReadFile_Errors(t *testing.T) {
	executor, root := newTestExecutor(t, Options{})
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(root, "binary.bin"), []byte{0xff, 0xfe, 0x00, 0x80}, 0644))

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{name: "missing file", params: map[string]interface{}{"path": "nope.txt"}},
		{name: "invalid utf-8", params: map[string]interface{}{"path": "binary.bin"}},
		{name: "directory", params: map[string]interface{}{"path": "."}},
		{name: "negative max", params: map[string]interface{}{"path": "binary.bin", "max_chars": -1}},
		{name: "non-integer max", params: map[string]interface{}{"path": "binary.bin", "max_chars": 1.5}},
		{name: "missing path", params: map[string]interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := executor.Invoke(ctx, "read_file", tt.params)
			assert.True(t, strings.HasPrefix(out, "error:"), out)
		})
	}
}

func TestRestrictPaths(t *testing.T) {
	executor, _ := newRestrictedExecutor(t, Options{}, true)
	ctx := context.Background()

	out := executor.Invoke(ctx, "write_file", map[string]interface{}{"path": "../escape.txt", "content": "x"})
	assert.Contains(t, out, "outside workspace root")

	out = executor.Invoke(ctx, "read_file", map[string]interface{}{"path": "/etc/hostname"})
	assert.True(t, toolexecutor.IsError(out))

	out = executor.Invoke(ctx, "write_file", map[string]interface{}{"path": "inside/ok.txt", "content": "x"})
	assert.Equal(t, "saved:inside/ok.txt", out)
}
