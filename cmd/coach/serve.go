package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"writingcoach/pkg/config"
	"writingcoach/pkg/llmsvc"
	"writingcoach/pkg/llmsvc/middleware/metrics"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/persistence"
	"writingcoach/pkg/sessions"
	"writingcoach/pkg/webui"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coaching HTTP and WebSocket service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.listen_addr)")
	return cmd
}

// runtimeDeps are the long-lived pieces shared by serve and repl.
type runtimeDeps struct {
	factory *llmsvc.Factory
	service *llmsvc.Service
	store   *persistence.ExchangeStore
}

func (d *runtimeDeps) Close() {
	d.factory.Close()
	if d.store != nil {
		if err := persistence.Close(); err != nil {
			logx.Warnf("failed to close transcript store: %v", err)
		}
	}
}

// buildDeps opens the transcript store when enabled and builds the model service.
func buildDeps(ctx context.Context, cfg config.Config) (*runtimeDeps, error) {
	deps := &runtimeDeps{}

	var factoryOpts []llmsvc.FactoryOption
	if cfg.Metrics.Enabled {
		factoryOpts = append(factoryOpts, llmsvc.WithRecorder(metrics.NewPrometheusRecorder(nil)))
	}
	if cfg.Storage.Enabled {
		if err := persistence.Initialize(cfg.Storage.DBPath); err != nil {
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		deps.store = persistence.Store()
		factoryOpts = append(factoryOpts, llmsvc.WithExchangeStore(deps.store))
	}

	deps.factory = llmsvc.NewFactory(ctx, cfg, factoryOpts...)
	service, err := llmsvc.New(deps.factory)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.service = service
	return deps, nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	registry := sessions.NewRegistry(deps.service, cfg.Server.SessionTTL, cfg.Server.CleanupInterval)

	serverOpts := []webui.Option{webui.WithCallTimeout(cfg.Resilience.Timeout * 2)}
	if deps.store != nil {
		serverOpts = append(serverOpts, webui.WithTranscripts(deps.store))
	}
	server := webui.New(registry, serverOpts...)

	logx.Infof("coach serving model %s on %s", deps.service.ModelName(), cfg.Server.ListenAddr)
	if err := server.Start(ctx, cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("web server failed: %w", err)
	}
	_ = logx.Sync()
	return nil
}
