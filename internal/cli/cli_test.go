package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// resetFlags clears package flag state left over from earlier Execute calls.
func resetFlags(t *testing.T) {
	t.Helper()
	cfgFile = ""
	logLevel = ""
	toolsJSON = false
	callArgs = "{}"
	callSession = ""
	callWorkDir = ""
	configureForce = false
	configureStdout = false
	serveHost = ""
	servePort = 0
	stopTimeout = 30 * time.Second
	historySession = ""
	historyTool = ""
	historyStatus = ""
	historyLimit = 20
	historyJSON = false
	pruneOlderThan = 0

	var clearHelp func(c *cobra.Command)
	clearHelp = func(c *cobra.Command) {
		if f := c.Flags().Lookup("help"); f != nil {
			_ = f.Value.Set("false")
		}
		for _, child := range c.Commands() {
			clearHelp(child)
		}
	}
	clearHelp(rootCmd)
}

// writeTestConfig writes a config anchored at a temp workspace and returns both paths.
func writeTestConfig(t *testing.T) (configPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "kitool.json")

	data, err := json.Marshal(map[string]interface{}{
		"workspace": map[string]interface{}{"root": dir},
		"logging":   map[string]interface{}{"level": "error", "pretty": false},
		"data_dir":  dir,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0644))
	return configPath, dir
}

func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(t)

	cmd := rootCmd
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
