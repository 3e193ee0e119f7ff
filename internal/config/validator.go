package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTimeout requires a strictly positive duration.
func (v *Validator) ValidateTimeout(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return nil
}

// ValidateLimit requires a strictly positive size or count.
func (v *Validator) ValidateLimit(name string, n int) error {
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, n)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateHost accepts an empty host, an IP literal or a host name.
func (v *Validator) ValidateHost(host string) error {
	if host == "" || net.ParseIP(host) != nil {
		return nil
	}
	if strings.ContainsAny(host, " /:") {
		return fmt.Errorf("invalid server host: %q", host)
	}
	return nil
}

// ValidateToolPolicy rejects blank tool names
func (v *Validator) ValidateToolPolicy(policy ToolPolicyConfig) error {
	for _, name := range append(append([]string{}, policy.Allow...), policy.Deny...) {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tools.policy contains an empty tool name")
		}
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error
	add := func(err error) {
		if err != nil {
			errors = append(errors, err)
		}
	}

	// Tools
	add(v.ValidateTimeout("tools.default_timeout", cfg.Tools.DefaultTimeout))
	add(v.ValidateLimit("tools.max_result_chars", cfg.Tools.MaxResultChars))
	add(v.ValidateToolPolicy(cfg.Tools.Policy))

	// Shell
	add(v.ValidateTimeout("shell.timeout", cfg.Shell.Timeout))
	add(v.ValidateLimit("shell.max_output_bytes", cfg.Shell.MaxOutputBytes))
	if cfg.Shell.WaitDelay < 0 {
		add(fmt.Errorf("shell.wait_delay must be >= 0"))
	}
	if cfg.Shell.Program == "" && len(cfg.Shell.Args) > 0 {
		add(fmt.Errorf("shell.args requires shell.program"))
	}

	// Files and data tools
	add(v.ValidateLimit("files.read_max_chars", cfg.Files.ReadMaxChars))
	if cfg.Tabular.Timeout < 0 {
		add(fmt.Errorf("tabular.timeout must be >= 0"))
	}

	// Snippet
	add(v.ValidateTimeout("snippet.timeout", cfg.Snippet.Timeout))
	add(v.ValidateLimit("snippet.max_memory_mb", cfg.Snippet.MaxMemoryMB))
	add(v.ValidateLimit("snippet.max_output_bytes", cfg.Snippet.MaxOutputBytes))
	add(v.ValidateLimit("snippet.max_call_stack", cfg.Snippet.MaxCallStack))

	// Queue
	if cfg.Queue.DedupTTL < 0 {
		add(fmt.Errorf("queue.dedup_ttl must be >= 0"))
	}
	if cfg.Queue.WarnAfter < 0 {
		add(fmt.Errorf("queue.warn_after must be >= 0"))
	}

	// Logging
	add(v.ValidateLogLevel(cfg.Logging.Level))
	if cfg.Logging.MaxSize < 0 {
		add(fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 || cfg.Logging.MaxBackups < 0 {
		add(fmt.Errorf("logging.max_age and logging.max_backups must be >= 0"))
	}

	// Server and metrics
	add(v.ValidateHost(cfg.Server.Host))
	add(v.ValidatePort(cfg.Server.Port))
	if cfg.Server.MaxBodyBytes <= 0 {
		add(fmt.Errorf("server.max_body_bytes must be positive"))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		add(fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}
	for _, proxy := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			add(fmt.Errorf("server.trusted_proxies: invalid address or CIDR %q", proxy))
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add(fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path))
	}

	// Gateway
	if cfg.Gateway.Enabled {
		if !strings.HasPrefix(cfg.Gateway.Path, "/") {
			add(fmt.Errorf("gateway.path must start with /, got %q", cfg.Gateway.Path))
		} else if cfg.Metrics.Enabled && cfg.Gateway.Path == cfg.Metrics.Path {
			add(fmt.Errorf("gateway.path and metrics.path must differ"))
		}
		add(v.ValidateLimit("gateway.requests_per_minute", cfg.Gateway.RequestsPerMinute))
		add(v.ValidateLimit("gateway.max_concurrent", cfg.Gateway.MaxConcurrent))
	}

	// History
	if cfg.History.Enabled {
		add(v.ValidateLimit("history.max_output_chars", cfg.History.MaxOutputChars))
		if cfg.History.Retention < 0 {
			add(fmt.Errorf("history.retention must be >= 0"))
		}
		if cfg.History.Retention > 0 && strings.TrimSpace(cfg.History.PruneSchedule) == "" {
			add(fmt.Errorf("history.prune_schedule is required when history.retention is set"))
		}
	}

	// Hooks
	if cfg.Hooks.Enabled {
		for i, hook := range cfg.Hooks.Hooks {
			add(v.ValidateHook(i, hook))
		}
	}

	// Tracing
	add(v.ValidateSampleRatio(cfg.Tracing.SampleRatio))
	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		add(fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}

	return errors
}

// ValidateHook checks one entry of hooks.hooks
func (v *Validator) ValidateHook(index int, hook HookConfig) error {
	event := strings.TrimSpace(hook.Event)
	switch {
	case event != "tool.before" && event != "tool.after":
		return fmt.Errorf("hooks.hooks[%d].event must be tool.before or tool.after, got %q", index, hook.Event)
	case strings.TrimSpace(hook.Script) == "":
		return fmt.Errorf("hooks.hooks[%d].script is required", index)
	case hook.Timeout < 0:
		return fmt.Errorf("hooks.hooks[%d].timeout must be >= 0", index)
	case hook.Blocking && event != "tool.before":
		return fmt.Errorf("hooks.hooks[%d]: only tool.before hooks can be blocking", index)
	}
	return nil
}
