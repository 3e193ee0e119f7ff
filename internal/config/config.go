package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the main kitool configuration
type Config struct {
	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Shell command executor
	Shell ShellConfig `json:"shell" mapstructure:"shell"`

	// Workspace root and path confinement
	Workspace WorkspaceConfig `json:"workspace" mapstructure:"workspace"`

	// Text file tools
	Files FilesConfig `json:"files" mapstructure:"files"`

	// Spreadsheet tools
	Tabular TabularConfig `json:"tabular" mapstructure:"tabular"`

	// Snippet runtime
	Snippet SnippetConfig `json:"snippet" mapstructure:"snippet"`

	// Per-session command queue used by the HTTP transport
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// WebSocket JSON-RPC gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Invocation history
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Shell hooks around tool calls
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ToolsConfig holds dispatcher settings
type ToolsConfig struct {
	DefaultTimeout time.Duration    `json:"default_timeout" mapstructure:"default_timeout"`
	MaxResultChars int              `json:"max_result_chars" mapstructure:"max_result_chars"`
	Policy         ToolPolicyConfig `json:"policy" mapstructure:"policy"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// ShellConfig configures the sh tool
type ShellConfig struct {
	Program        string            `json:"program" mapstructure:"program"` // empty selects the host default
	Args           []string          `json:"args" mapstructure:"args"`
	Timeout        time.Duration     `json:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int               `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	WaitDelay      time.Duration     `json:"wait_delay" mapstructure:"wait_delay"`
	Env            map[string]string `json:"env" mapstructure:"env"`
}

// WorkspaceConfig anchors relative tool paths
type WorkspaceConfig struct {
	Root          string `json:"root" mapstructure:"root"`
	RestrictPaths bool   `json:"restrict_paths" mapstructure:"restrict_paths"`
}

// FilesConfig configures read_file and write_file
type FilesConfig struct {
	ReadMaxChars int `json:"read_max_chars" mapstructure:"read_max_chars"`
}

// TabularConfig configures the spreadsheet tools
type TabularConfig struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// SnippetConfig bounds the py tool
type SnippetConfig struct {
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxMemoryMB    int           `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	MaxOutputBytes int           `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	MaxCallStack   int           `json:"max_call_stack" mapstructure:"max_call_stack"`
}

// QueueConfig configures session lanes
type QueueConfig struct {
	DedupTTL  time.Duration `json:"dedup_ttl" mapstructure:"dedup_ttl"`
	WarnAfter time.Duration `json:"warn_after" mapstructure:"warn_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`   // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`

	RedactPatterns []string `json:"redact_patterns" mapstructure:"redact_patterns"`

	// AuditFile receives one JSON line per tool call; empty disables the audit trail
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`

	// RateLimitPerMinute caps tool calls per client address; 0 disables it
	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`

	// WatchConfig reapplies the tool policy when the config file changes
	WatchConfig bool `json:"watch_config" mapstructure:"watch_config"`

	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For and X-Real-IP; empty trusts no one
	TrustedProxies []string `json:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// GatewayConfig configures the WebSocket gateway served next to the HTTP routes
type GatewayConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	Path              string `json:"path" mapstructure:"path"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"` // empty disables auth
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// HistoryConfig configures the SQLite invocation log
type HistoryConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	Path           string        `json:"path" mapstructure:"path"` // empty means <data_dir>/history.db
	Retention      time.Duration `json:"retention" mapstructure:"retention"`
	PruneSchedule  string        `json:"prune_schedule" mapstructure:"prune_schedule"`
	MaxOutputChars int           `json:"max_output_chars" mapstructure:"max_output_chars"`
}

// HooksConfig lists scripts run before and after tool calls
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Shell   string       `json:"shell" mapstructure:"shell"` // empty means /bin/sh
	Hooks   []HookConfig `json:"hooks" mapstructure:"hooks"`
}

// HookConfig binds one script to tool.before or tool.after
type HookConfig struct {
	ID       string        `json:"id" mapstructure:"id"`
	Event    string        `json:"event" mapstructure:"event"`
	Script   string        `json:"script" mapstructure:"script"`
	Tools    []string      `json:"tools" mapstructure:"tools"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Blocking bool          `json:"blocking" mapstructure:"blocking"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Tools: ToolsConfig{
			DefaultTimeout: 120 * time.Second,
			MaxResultChars: 100000,
			// Empty allow list admits every tool.
			Policy: ToolPolicyConfig{},
		},
		Shell: ShellConfig{
			Timeout:        60 * time.Second,
			MaxOutputBytes: 1 << 20,
			WaitDelay:      2 * time.Second,
		},
		Workspace: WorkspaceConfig{
			Root:          "",
			RestrictPaths: false,
		},
		Files: FilesConfig{
			ReadMaxChars: 20000,
		},
		Tabular: TabularConfig{
			Timeout: 60 * time.Second,
		},
		Snippet: SnippetConfig{
			Timeout:        30 * time.Second,
			MaxMemoryMB:    256,
			MaxOutputBytes: 1 << 20,
			MaxCallStack:   1024,
		},
		Queue: QueueConfig{
			DedupTTL:  5 * time.Minute,
			WarnAfter: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    10 << 20,
			WatchConfig:     true,
		},
		Gateway: GatewayConfig{
			Enabled:           true,
			Path:              "/v1/ws",
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
		History: HistoryConfig{
			Enabled:        true,
			Retention:      30 * 24 * time.Hour,
			PruneSchedule:  "@hourly",
			MaxOutputChars: 4000,
		},
		Hooks: HooksConfig{
			Enabled: false,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kitool",
			SampleRatio: 1.0,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
