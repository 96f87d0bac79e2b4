// Package pipeline runs the background loops: incremental venue sync, journal
// reprocessing, equity snapshots, and cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perptools/journal/internal/service"
)

// Orchestrator manages the pipeline goroutines: one sync loop driving every
// configured scraper plus the journal rebuild, and the archiver cron.
type Orchestrator struct {
	scrapers     []*Scraper
	journal      *service.JournalService
	archiver     *Archiver
	syncInterval time.Duration
	syncOnce     bool
	archiveCron  string
	logger       *slog.Logger
}

// NewOrchestrator creates a new Orchestrator coordinating the given scrapers.
func NewOrchestrator(
	scrapers []*Scraper,
	journal *service.JournalService,
	archiver *Archiver,
	syncInterval time.Duration,
	syncOnce bool,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		scrapers:     scrapers,
		journal:      journal,
		archiver:     archiver,
		syncInterval: syncInterval,
		syncOnce:     syncOnce,
		archiveCron:  archiveCron,
		logger:       logger,
	}
}

// Run starts the sync loop and the archiver cron as concurrent goroutines
// using an errgroup. Each goroutine respects ctx cancellation. If any
// goroutine returns a non-context error, the errgroup cancels the shared
// context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("sync_interval", o.syncInterval),
		slog.Bool("sync_once", o.syncOnce),
		slog.String("archive_cron", o.archiveCron),
		slog.Int("scrapers", len(o.scrapers)),
	)

	if o.syncOnce {
		o.syncAll(ctx)
		o.logger.Info("one-shot sync finished")
		return ctx.Err()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.logger.Info("starting sync loop")
		err := o.runSyncLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("sync loop: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// runSyncLoop runs one sync pass immediately, then on every tick. A failed
// pass for one scope is logged and retried on the next tick; it never stops
// the loop.
func (o *Orchestrator) runSyncLoop(ctx context.Context) error {
	o.syncAll(ctx)

	ticker := time.NewTicker(o.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.syncAll(ctx)
		}
	}
}

// syncAll runs scrape, equity snapshot, and journal rebuild for every scope.
func (o *Orchestrator) syncAll(ctx context.Context) {
	for _, scraper := range o.scrapers {
		if ctx.Err() != nil {
			return
		}
		o.syncScope(ctx, scraper)
	}
}

func (o *Orchestrator) syncScope(ctx context.Context, scraper *Scraper) {
	scope := scraper.Scope()

	scraped, err := scraper.Run(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "scope sync failed",
			slog.String("source", scope.Source),
			slog.String("error", err.Error()),
		)
		return
	}

	o.recordEquity(ctx, scraper)

	// Rebuild even when nothing new arrived on the very first pass, so a
	// fresh database converges without waiting for new fills.
	processed, err := o.journal.Process(ctx, scope)
	if err != nil {
		o.logger.ErrorContext(ctx, "journal rebuild failed",
			slog.String("source", scope.Source),
			slog.String("error", err.Error()),
		)
		return
	}

	o.logger.InfoContext(ctx, "scope synced",
		slog.String("source", scope.Source),
		slog.Int("fills", scraped.Fills),
		slog.Int("orders", scraped.Orders),
		slog.Int("funding", scraped.Funding),
		slog.Int("trades", processed.Trades),
	)
}

// recordEquity stores a live account value snapshot when the venue exposes
// one. Failures are logged; equity annotation degrades gracefully without
// snapshots.
func (o *Orchestrator) recordEquity(ctx context.Context, scraper *Scraper) {
	fetcher, ok := scraper.venue.(EquityFetcher)
	if !ok {
		return
	}
	snap, err := fetcher.FetchEquity(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "equity snapshot failed",
			slog.String("source", scraper.scope.Source),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := o.journal.RecordEquity(ctx, snap); err != nil {
		o.logger.WarnContext(ctx, "equity snapshot store failed",
			slog.String("source", scraper.scope.Source),
			slog.String("error", err.Error()),
		)
	}
}
