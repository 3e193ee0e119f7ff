package cli

import (
	"path/filepath"
	"testing"

	"github.com/harun/kitool/internal/config"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand_NotRunning(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	_, _, err := executeCommand(t, "", "stop", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeCommand_AlreadyRunning(t *testing.T) {
	configPath, dir := writeTestConfig(t)
	release, err := claimPIDFile(filepath.Join(dir, pidFileName))
	require.NoError(t, err)
	defer release()

	_, _, err = executeCommand(t, "", "serve", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestApplyPolicy(t *testing.T) {
	executor := toolexecutor.New(toolexecutor.Options{})

	cfg := config.DefaultConfig()
	cfg.Tools.Policy.Deny = []string{"sh"}
	applyPolicy(executor, cfg)
	assert.Equal(t, []string{"sh"}, executor.Policy().Deny)

	cfg = config.DefaultConfig()
	cfg.Tools.Policy.Allow = []string{""}
	applyPolicy(executor, cfg)
	assert.Equal(t, []string{"sh"}, executor.Policy().Deny, "invalid policy is ignored")
}
