package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/syport/internal/blob/s3"
	"github.com/alanyoungcy/syport/internal/pipeline"
	"github.com/alanyoungcy/syport/internal/portfolio"
	"github.com/alanyoungcy/syport/internal/registry"
	"github.com/alanyoungcy/syport/internal/server"
	"github.com/alanyoungcy/syport/internal/server/handler"
	"github.com/alanyoungcy/syport/internal/server/middleware"
	"github.com/alanyoungcy/syport/internal/server/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP and WebSocket API and keeps the pool registry
// fresh. Redemptions are read through the configured source.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startHTTPServer(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	orch := pipeline.NewOrchestrator(a.newRefresher(deps), nil, 0, nil, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// IndexMode mirrors subgraph redemptions into Postgres. The registry still
// refreshes because amounts are scaled by pool decimals.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startPipeline(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("index mode: %w", err)
	}

	return g.Wait()
}

// FullMode runs the API server together with the registry refresher and,
// when indexer.enabled is set, the subgraph indexer. POST
// /api/indexer/trigger requests an immediate indexer run.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	var triggerCh chan struct{}
	if a.cfg.RunsIndexer() {
		triggerCh = make(chan struct{}, 1)
	}
	if err := a.startHTTPServer(ctx, g, deps, triggerCh); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if err := a.startPipeline(ctx, g, deps, triggerCh); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	return g.Wait()
}

func (a *App) newRefresher(deps *Dependencies) *registry.Refresher {
	return registry.NewRefresher(
		deps.Registry,
		deps.SmartYield,
		deps.PoolCache,
		deps.PoolStore,
		deps.LockManager,
		a.cfg.Registry.RefreshInterval.Duration,
		a.logger,
	)
}

// startPipeline runs the registry refresher and, when configured, the
// subgraph indexer under g.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, triggerCh <-chan struct{}) error {
	var indexer *pipeline.Indexer
	if a.cfg.RunsIndexer() {
		if deps.RedeemStore == nil {
			return fmt.Errorf("indexer requires the postgres redemption store")
		}
		if deps.Subgraph == nil {
			return fmt.Errorf("indexer requires subgraph.url")
		}

		var startFrom time.Time
		if a.cfg.Indexer.StartFrom > 0 {
			startFrom = time.Unix(a.cfg.Indexer.StartFrom, 0).UTC()
		}
		indexer = pipeline.NewIndexer(
			deps.Subgraph,
			deps.RedeemStore,
			deps.Registry,
			deps.PageCache,
			deps.LockManager,
			pipeline.IndexerConfig{
				BatchSize: a.cfg.Indexer.BatchSize,
				StartFrom: startFrom,
			},
			a.logger,
		)
	} else {
		a.logger.InfoContext(ctx, "pipeline: indexer disabled, only the pool registry refreshes")
	}

	orch := pipeline.NewOrchestrator(a.newRefresher(deps), indexer, a.cfg.Indexer.Interval.Duration, triggerCh, a.logger).
		WithRegistryReady(deps.Registry.Ready())
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return nil
}

// startHTTPServer registers the API handlers and runs the server and the
// WebSocket hub under g. triggerCh is nil when no indexer runs in this
// process.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, triggerCh chan<- struct{}) error {
	trusted, err := middleware.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	asm := portfolio.NewAssembler(deps.Source, a.logger)

	hub := ws.NewHub(asm, deps.Registry, ws.Config{
		Explorer:       a.cfg.SmartYield.Explorer,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
		PageSize:       a.cfg.SmartYield.PageSize,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	ih := handler.NewIndexerHandler(a.logger)
	if triggerCh != nil {
		ih = ih.WithTriggerChannel(triggerCh)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Registry, deps.Pingers, a.logger),
		Pools:   handler.NewPoolHandler(deps.Registry, a.logger),
		Redeems: handler.NewRedeemHandler(asm, deps.Registry, a.cfg.SmartYield.Explorer, a.logger).
			WithPageSize(a.cfg.SmartYield.PageSize),
		Indexer: ih,
		Hub:     hub,
	}

	if deps.BlobWriter != nil && deps.BlobReader != nil {
		// Exports read through the same source as the API so statements
		// match what the dashboard shows.
		exporter := s3blob.NewExporter(deps.BlobWriter, deps.Source, deps.Registry)
		handlers.Exports = handler.NewExportHandler(exporter, deps.BlobReader, a.logger)
	} else {
		a.logger.InfoContext(ctx, "HTTP server: statement exports disabled (s3.enabled is false)")
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateWindow.Duration,
		TrustedProxies:  trusted,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}
