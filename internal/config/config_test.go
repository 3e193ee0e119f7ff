package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 120*time.Second, cfg.Tools.DefaultTimeout)
	assert.Equal(t, 100000, cfg.Tools.MaxResultChars)
	assert.Empty(t, cfg.Tools.Policy.Allow)
	assert.Equal(t, 60*time.Second, cfg.Shell.Timeout)
	assert.Equal(t, 1<<20, cfg.Shell.MaxOutputBytes)
	assert.Equal(t, 20000, cfg.Files.ReadMaxChars)
	assert.Equal(t, 30*time.Second, cfg.Snippet.Timeout)
	assert.Equal(t, 256, cfg.Snippet.MaxMemoryMB)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Logging.MaxBackups)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Workspace.RestrictPaths)
	assert.True(t, cfg.Server.WatchConfig)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, "/v1/ws", cfg.Gateway.Path)
	assert.Empty(t, cfg.Gateway.SharedSecret)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 720*time.Hour, cfg.History.Retention)
	assert.Equal(t, "@hourly", cfg.History.PruneSchedule)
	assert.False(t, cfg.Hooks.Enabled)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero tool timeout", func(c *Config) { c.Tools.DefaultTimeout = 0 }, "tools.default_timeout"},
		{"zero result limit", func(c *Config) { c.Tools.MaxResultChars = 0 }, "tools.max_result_chars"},
		{"blank policy entry", func(c *Config) { c.Tools.Policy.Deny = []string{" "} }, "empty tool name"},
		{"negative shell timeout", func(c *Config) { c.Shell.Timeout = -time.Second }, "shell.timeout"},
		{"args without program", func(c *Config) { c.Shell.Args = []string{"-c"} }, "shell.args"},
		{"zero read limit", func(c *Config) { c.Files.ReadMaxChars = 0 }, "files.read_max_chars"},
		{"zero snippet memory", func(c *Config) { c.Snippet.MaxMemoryMB = 0 }, "snippet.max_memory_mb"},
		{"negative dedup ttl", func(c *Config) { c.Queue.DedupTTL = -1 }, "queue.dedup_ttl"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"negative max backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"bad host", func(c *Config) { c.Server.Host = "local host" }, "server host"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} }, "server.trusted_proxies"},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"bad gateway path", func(c *Config) { c.Gateway.Path = "ws" }, "gateway.path"},
		{"gateway on metrics path", func(c *Config) { c.Gateway.Path = "/metrics" }, "must differ"},
		{"zero gateway rate", func(c *Config) { c.Gateway.RequestsPerMinute = 0 }, "gateway.requests_per_minute"},
		{"negative retention", func(c *Config) { c.History.Retention = -time.Hour }, "history.retention"},
		{"retention without schedule", func(c *Config) { c.History.PruneSchedule = " " }, "history.prune_schedule"},
		{"zero history output", func(c *Config) { c.History.MaxOutputChars = 0 }, "history.max_output_chars"},
		{"unknown hook event", func(c *Config) {
			c.Hooks.Enabled = true
			c.Hooks.Hooks = []HookConfig{{Event: "startup", Script: "true"}}
		}, "hooks.hooks[0].event"},
		{"blocking after hook", func(c *Config) {
			c.Hooks.Enabled = true
			c.Hooks.Hooks = []HookConfig{{Event: "tool.after", Script: "true", Blocking: true}}
		}, "only tool.before"},
		{"bad sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
		{"tracing without name", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.ServiceName = ""
		}, "service_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("trusted proxies accept addresses and ranges", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.TrustedProxies = []string{"127.0.0.1", "::1", "10.0.0.0/8"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled sections are not checked", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.Enabled = false
		cfg.Gateway.Path = ""
		cfg.History.Enabled = false
		cfg.History.MaxOutputChars = 0
		cfg.Hooks.Hooks = []HookConfig{{Event: "nope"}}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "loud"
		cfg.Server.Port = -1

		errs := NewValidator().ValidateConfig(cfg)
		assert.Len(t, errs, 2)
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	str := cfg.String()

	assert.True(t, strings.HasPrefix(str, "{"))
	assert.Contains(t, str, `"max_result_chars": 100000`)
	assert.Contains(t, str, `"restrict_paths": false`)
}
