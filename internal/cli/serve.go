package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/kitool/internal/config"
	"github.com/harun/kitool/internal/server"
	"github.com/harun/kitool/pkg/gateway"
	"github.com/harun/kitool/pkg/history"
	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over HTTP",
	Long: `Serve the tool registry over HTTP and a WebSocket JSON-RPC gateway
until interrupted. Calls sharing a session key run one at a time in arrival
order. Edits to the tool policy in the config file apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address override")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	release, err := claimPIDFile(pidFilePath(cfg.DataDir))
	if err != nil {
		return err
	}
	defer release()

	rt, err := newToolRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.openDispatcher(); err != nil {
		return err
	}

	var ws http.Handler
	if cfg.Gateway.Enabled {
		gw, err := gateway.NewGateway(gateway.Config{
			Dispatcher:        rt.dispatcher,
			SharedSecret:      cfg.Gateway.SharedSecret,
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
			MaxConcurrent:     cfg.Gateway.MaxConcurrent,
			Logger:            log.Logger,
		})
		if err != nil {
			return err
		}
		ws = gw
	}

	srv, err := server.NewServer(server.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		MetricsPath:        cfg.Metrics.Path,
		GatewayPath:        cfg.Gateway.Path,
		TrustedProxies:     cfg.Server.TrustedProxies,
	}, rt.dispatcher, metricsHandler(rt), ws, log.Logger)
	if err != nil {
		return err
	}

	if rt.history != nil && cfg.History.Retention > 0 {
		pruner, err := history.NewPruner(rt.history, cfg.History.Retention, cfg.History.PruneSchedule)
		if err != nil {
			return err
		}
		pruner.Start()
		defer pruner.Stop()
	}

	if cfg.Server.WatchConfig {
		watcher, err := config.NewWatcher(config.NewLoader(cfgFile), 0, func(next *config.Config) {
			applyPolicy(rt.executor, next)
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Config watching disabled")
		} else {
			defer watcher.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// applyPolicy swaps in the tool policy of a reloaded config. Other settings
// need a restart.
func applyPolicy(executor *toolexecutor.ToolExecutor, cfg *config.Config) {
	policy := &toolexecutor.ToolPolicy{
		Allow: cfg.Tools.Policy.Allow,
		Deny:  cfg.Tools.Policy.Deny,
	}
	if err := executor.SetPolicy(policy); err != nil {
		log.Warn().Err(err).Msg("Ignoring invalid tool policy from reloaded config")
	}
}

func metricsHandler(rt *toolRuntime) http.Handler {
	if rt.metrics == nil {
		return nil
	}
	return rt.metrics.Handler()
}
