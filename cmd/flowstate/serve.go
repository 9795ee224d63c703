package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/flowstate/internal/catalog"
	"github.com/petrijr/flowstate/internal/config"
	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/httpapi"
	"github.com/petrijr/flowstate/internal/ingest"
	"github.com/petrijr/flowstate/internal/metrics"
	"github.com/petrijr/flowstate/internal/normalize"
	"github.com/petrijr/flowstate/pkg/api"
	"github.com/petrijr/flowstate/pkg/worker"
)

func newServeCmd() *cobra.Command {
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, its workers and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg, cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default: ./flowstate.yaml)")
	cmd.Flags().StringVar(&envFile, "env", "", "dotenv file loaded before reading the config")
	return cmd
}

// daemon is the wired set of components run by serve.
type daemon struct {
	engine   api.Engine
	worker   *worker.Worker
	server   *httpapi.Server
	source   ingest.Source
	backends *backends
}

func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector("flowstate", nil)
	observer := api.NewCompositeObserver(api.NewLoggingObserver(logger), collector)

	resolver := normalize.NewGraphResolver().WithFallback(normalize.IdentityResolver)
	if b.persistence.Flows != nil {
		flows, err := b.persistence.Flows.ListFlows(ctx)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		for _, f := range flows {
			if err := resolver.RegisterFlow(f); err != nil {
				logger.WarnContext(ctx, "flow_register_failed", slog.String("flow_id", string(f.ID)), slog.Any("error", err))
			}
		}
	}

	var loader *catalog.Loader
	if cfg.Catalog.URL != "" {
		loader = catalog.NewLoader(catalog.NewHTTPFetcher(cfg.Catalog.URL),
			catalog.WithRetryBackoff(cfg.Catalog.RetryBackoff),
			catalog.WithObserver(observer),
		)
	}

	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence:  b.persistence,
		Observer:     observer,
		Resolver:     resolver,
		Catalog:      loader,
		HistoryLimit: cfg.HistoryLimit,
	})
	w := worker.New(eng, b.queue)

	d := &daemon{
		engine:   eng,
		worker:   w,
		backends: b,
		server: httpapi.NewServer(eng, httpapi.Options{
			Flows:    b.persistence.Flows,
			Resolver: resolver,
			Events:   w,
			Metrics:  collector,
			Logger:   logger,
		}),
	}

	flow := api.FlowID(cfg.Ingest.Flow)
	switch cfg.Ingest.Transport {
	case "sse":
		src := ingest.NewSSESource(cfg.Ingest.URL, flow, w)
		src.OnDecodeError = decodeErrorLogger(logger)
		d.source = src
	case "websocket":
		src := ingest.NewWebSocketSource(cfg.Ingest.URL, flow, w)
		src.OnDecodeError = decodeErrorLogger(logger)
		d.source = src
	}
	return d, nil
}

func decodeErrorLogger(logger *slog.Logger) func(error) {
	return func(err error) {
		logger.Warn("envelope_dropped", slog.Any("error", err))
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := buildDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.backends.Close()

	e := d.server.Echo()
	g, gctx := errgroup.WithContext(ctx)

	// With more than one worker, events of one flow are no longer applied
	// in queue order.
	for i := 0; i < cfg.Queue.Workers; i++ {
		g.Go(func() error {
			err := d.worker.Run(gctx, func(err error) {
				logger.WarnContext(gctx, "task_failed", slog.Any("error", err))
			})
			return ignoreCanceled(err)
		})
	}

	if d.source != nil {
		g.Go(func() error {
			logger.InfoContext(gctx, "ingest_started",
				slog.String("transport", cfg.Ingest.Transport),
				slog.String("url", cfg.Ingest.URL),
			)
			err := ingest.Reconnect(gctx, d.source, cfg.Ingest.ReconnectDelay, func(err error) {
				logger.WarnContext(gctx, "ingest_disconnected", slog.Any("error", err))
			})
			return ignoreCanceled(err)
		})
	}

	g.Go(func() error {
		logger.InfoContext(gctx, "http_listening", slog.String("addr", cfg.HTTP.Addr))
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	logger.InfoContext(ctx, "flowstate_started",
		slog.String("version", Version),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
	)
	err = g.Wait()
	logger.Info("flowstate_stopped", slog.Any("error", err))
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
