package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf", "kitool.json")

	out, _, err := executeCommand(t, "", "configure", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, configPath)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	var saved map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Contains(t, saved, "tools")
	assert.Contains(t, saved, "snippet")

	_, _, err = executeCommand(t, "", "configure", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = executeCommand(t, "", "configure", "--config", configPath, "--force", "--log-level", "debug")
	require.NoError(t, err)

	data, err = os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"debug"`)
}

func TestConfigureCommand_Stdout(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "kitool.json")
	t.Setenv("KITOOL_SERVER_PORT", "9191")

	out, _, err := executeCommand(t, "", "configure", "--config", configPath, "--stdout")
	require.NoError(t, err)
	assert.NoFileExists(t, configPath)

	var printed struct {
		Server struct {
			Port int `json:"port"`
		} `json:"server"`
		DataDir string `json:"data_dir"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	assert.Equal(t, 9191, printed.Server.Port)
	assert.Equal(t, filepath.Dir(configPath), printed.DataDir)
}
