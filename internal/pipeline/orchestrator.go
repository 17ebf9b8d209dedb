// Package pipeline runs the background data flows: the pool registry refresh
// and the senior redemption indexer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// RegistryRunner keeps the pool registry fresh until ctx is done.
type RegistryRunner interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the pipeline goroutines.
type Orchestrator struct {
	refresher     RegistryRunner
	indexer       *Indexer // nil when indexing is disabled
	indexInterval time.Duration
	trigger       <-chan struct{}
	ready         <-chan struct{} // optional; the indexer starts once closed
	logger        *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. indexer may be nil.
func NewOrchestrator(
	refresher RegistryRunner,
	indexer *Indexer,
	indexInterval time.Duration,
	trigger <-chan struct{},
	logger *slog.Logger,
) *Orchestrator {
	if indexInterval <= 0 {
		indexInterval = time.Minute
	}
	return &Orchestrator{
		refresher:     refresher,
		indexer:       indexer,
		indexInterval: indexInterval,
		trigger:       trigger,
		logger:        logger.With(slog.String("component", "pipeline")),
	}
}

// WithRegistryReady delays the indexer until ready is closed, so the first
// run can scale every redemption by its pool's decimals.
func (o *Orchestrator) WithRegistryReady(ready <-chan struct{}) *Orchestrator {
	o.ready = ready
	return o
}

// Run starts the sub-pipelines under an errgroup. A non-context error from
// one of them cancels the others and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("index_interval", o.indexInterval),
		slog.Bool("indexer", o.indexer != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.refresher.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("registry refresher: %w", err)
	})

	if o.indexer != nil {
		g.Go(func() error {
			if o.ready != nil {
				select {
				case <-o.ready:
				case <-ctx.Done():
					return nil
				}
			}
			err := o.indexer.RunLoop(ctx, o.indexInterval, o.trigger)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("indexer: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
