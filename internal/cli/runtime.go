package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/harun/kitool/internal/config"
	"github.com/harun/kitool/internal/logger"
	"github.com/harun/kitool/internal/metrics"
	"github.com/harun/kitool/internal/observability"
	"github.com/harun/kitool/internal/tracing"
	"github.com/harun/kitool/pkg/commandqueue"
	"github.com/harun/kitool/pkg/coretools"
	"github.com/harun/kitool/pkg/gateway"
	"github.com/harun/kitool/pkg/history"
	"github.com/harun/kitool/pkg/hooks"
	"github.com/harun/kitool/pkg/sandbox"
	"github.com/harun/kitool/pkg/snippet"
	"github.com/harun/kitool/pkg/tabular"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/harun/kitool/pkg/workspace"
	"github.com/rs/zerolog/log"
)

// toolRuntime is everything a command needs to run tools
type toolRuntime struct {
	cfg      *config.Config
	logger   *logger.Logger
	metrics  *metrics.Metrics // nil when metrics are disabled
	audit    *observability.AuditLogger
	executor *toolexecutor.ToolExecutor
	tracer   *tracing.Provider

	// Set by openDispatcher
	history    *history.Store // nil when history is disabled
	queue      *commandqueue.CommandQueue
	dispatcher *gateway.Dispatcher
}

// loadConfig loads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newToolRuntime builds the registry with all seven tools and seals it.
// Console logs go to stderr so stdout carries only tool results.
func newToolRuntime(cfg *config.Config, stderr io.Writer) (*toolRuntime, error) {
	rot := logger.Rotation{
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxAgeDays: cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
	lg, err := logger.New(logger.Config{
		Level:          cfg.Logging.Level,
		Console:        stderr,
		Pretty:         cfg.Logging.Pretty,
		File:           cfg.Logging.File,
		Rotation:       rot,
		Redaction:      cfg.Logging.Redaction,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &toolRuntime{cfg: cfg, logger: lg}

	if cfg.Tracing.Enabled {
		spanLogger := lg.Component("tracing")
		tracer, err := tracing.Setup(context.Background(), tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			SpanLogger:  &spanLogger,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		rt.tracer = tracer
	}

	if cfg.Logging.AuditFile != "" {
		audit, err := observability.OpenAuditLog(cfg.Logging.AuditFile, rot)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.audit = audit
	}

	opts := toolexecutor.Options{
		DefaultTimeout: cfg.Tools.DefaultTimeout,
		MaxResultChars: cfg.Tools.MaxResultChars,
		Policy: &toolexecutor.ToolPolicy{
			Allow: cfg.Tools.Policy.Allow,
			Deny:  cfg.Tools.Policy.Deny,
		},
	}
	if err := opts.Policy.Validate(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}
	if cfg.Metrics.Enabled {
		rt.metrics = metrics.NewMetrics()
		opts.Observer = rt.metrics
	}
	rt.executor = toolexecutor.New(opts)

	if err := registerTools(rt.executor, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	rt.executor.Seal()

	log.Debug().
		Strs("tools", rt.executor.ListTools()).
		Str("workspace", cfg.Workspace.Root).
		Msg("Tool runtime ready")

	return rt, nil
}

// openDispatcher opens the history store and the session queue and wires
// them behind a dispatcher. Commands that only list tools skip it.
func (rt *toolRuntime) openDispatcher() error {
	if rt.cfg.History.Enabled {
		store, err := history.Open(rt.cfg.History.Path, rt.cfg.History.MaxOutputChars)
		if err != nil {
			return err
		}
		rt.history = store
	}

	queueOpts := commandqueue.Options{DedupTTL: rt.cfg.Queue.DedupTTL}
	if rt.metrics != nil {
		queueOpts.Observer = rt.metrics
	}
	var hookObserver hooks.Observer
	if rt.metrics != nil {
		hookObserver = rt.metrics
	}
	hookManager, err := newHookManager(rt.cfg.Hooks, hookObserver)
	if err != nil {
		return err
	}

	rt.queue = commandqueue.New(queueOpts)

	dcfg := gateway.DispatcherConfig{
		Executor:  rt.executor,
		Queue:     rt.queue,
		Audit:     rt.audit,
		History:   rt.history,
		Hooks:     hookManager,
		WarnAfter: rt.cfg.Queue.WarnAfter,
	}
	if redactor := rt.logger.Redactor(); redactor != nil {
		dcfg.Redact = redactor.Redact
	}
	dispatcher, err := gateway.NewDispatcher(dcfg)
	if err != nil {
		return err
	}
	rt.dispatcher = dispatcher
	return nil
}

func newHookManager(cfg config.HooksConfig, observer hooks.Observer) (*hooks.Manager, error) {
	defs := make([]hooks.Hook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		defs = append(defs, hooks.Hook{
			ID:       h.ID,
			Event:    h.Event,
			Script:   h.Script,
			Tools:    h.Tools,
			Timeout:  h.Timeout,
			Blocking: h.Blocking,
		})
	}
	manager, err := hooks.NewManager(hooks.Config{
		Enabled:  cfg.Enabled,
		Shell:    cfg.Shell,
		Hooks:    defs,
		Logger:   log.Logger,
		Observer: observer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure hooks: %w", err)
	}
	return manager, nil
}

func registerTools(executor *toolexecutor.ToolExecutor, cfg *config.Config) error {
	ws := workspace.New(cfg.Workspace.Root, cfg.Workspace.RestrictPaths)

	sb, err := sandbox.NewHostSandbox(sandbox.Config{
		Shell: sandbox.ShellConfig{
			Program: cfg.Shell.Program,
			Args:    cfg.Shell.Args,
		},
		ResourceLimits: sandbox.ResourceLimits{
			Timeout:        cfg.Shell.Timeout,
			MaxOutputBytes: cfg.Shell.MaxOutputBytes,
			WaitDelay:      cfg.Shell.WaitDelay,
		},
		Env: cfg.Shell.Env,
	})
	if err != nil {
		return fmt.Errorf("failed to create shell sandbox: %w", err)
	}

	if err := coretools.RegisterCoreTools(executor, coretools.Options{
		Workspace:    ws,
		Sandbox:      sb,
		ShellTimeout: cfg.Shell.Timeout,
		ReadMaxChars: cfg.Files.ReadMaxChars,
	}); err != nil {
		return err
	}

	if err := tabular.RegisterTools(executor, tabular.Options{
		Workspace: ws,
		Timeout:   cfg.Tabular.Timeout,
	}); err != nil {
		return err
	}

	runner := snippet.NewRunner(snippet.Config{
		Timeout:        cfg.Snippet.Timeout,
		MaxMemoryMB:    cfg.Snippet.MaxMemoryMB,
		MaxOutputBytes: cfg.Snippet.MaxOutputBytes,
		MaxCallStack:   cfg.Snippet.MaxCallStack,
	}, ws)
	return snippet.RegisterTools(executor, runner)
}

// Close drains the queue, flushes traces and releases every file.
func (rt *toolRuntime) Close() {
	if rt.queue != nil {
		if err := rt.queue.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close command queue")
		}
	}
	if err := rt.history.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close history store")
	}
	if err := rt.tracer.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
	if err := rt.audit.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close audit log")
	}
	_ = rt.logger.Close()
}
