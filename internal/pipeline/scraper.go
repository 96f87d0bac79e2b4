package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// ScrapeResult summarises one incremental sync pass for a scope.
type ScrapeResult struct {
	Fills   int
	Orders  int
	Funding int
	Skipped int
}

// Scraper pulls new fills, orders, and funding events for one account scope
// from its venue and upserts them into the stores. Each run resumes from the
// stored checkpoints, re-fetching a small overlap so a record landing on the
// boundary is never missed; the unique indexes absorb the duplicates.
type Scraper struct {
	venue    VenueSource
	scope    domain.AccountScope
	fills    domain.FillStore
	orders   domain.OrderStore
	funding  domain.FundingStore
	locks    domain.LockManager
	backfill time.Duration
	overlap  time.Duration
	logger   *slog.Logger
}

// NewScraper creates a Scraper. backfill bounds the first run when no
// checkpoint exists; overlap is re-fetched behind each checkpoint.
func NewScraper(
	venue VenueSource,
	scope domain.AccountScope,
	fills domain.FillStore,
	orders domain.OrderStore,
	funding domain.FundingStore,
	locks domain.LockManager,
	backfill, overlap time.Duration,
	logger *slog.Logger,
) *Scraper {
	if backfill <= 0 {
		backfill = 90 * 24 * time.Hour
	}
	if overlap <= 0 {
		overlap = 5 * time.Minute
	}
	return &Scraper{
		venue:    venue,
		scope:    scope,
		fills:    fills,
		orders:   orders,
		funding:  funding,
		locks:    locks,
		backfill: backfill,
		overlap:  overlap,
		logger:   logger,
	}
}

// Scope returns the account scope this scraper syncs.
func (s *Scraper) Scope() domain.AccountScope {
	return s.scope
}

// Run executes one incremental sync pass under the scope's sync lock. A held
// lock means another instance is already syncing this scope; the run is
// skipped, not failed.
func (s *Scraper) Run(ctx context.Context) (ScrapeResult, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, s.lockKey(), 5*time.Minute)
		if err != nil {
			return ScrapeResult{}, fmt.Errorf("pipeline: sync lock %s: %w", s.lockKey(), err)
		}
		defer unlock()
	}

	now := time.Now().UTC()
	var result ScrapeResult

	fills, skipped, err := s.scrapeFills(ctx, now)
	if err != nil {
		return result, err
	}
	result.Fills = fills
	result.Skipped += skipped

	orders, skipped, err := s.scrapeOrders(ctx, now)
	if err != nil {
		return result, err
	}
	result.Orders = orders
	result.Skipped += skipped

	funding, skipped, err := s.scrapeFunding(ctx, now)
	if err != nil {
		return result, err
	}
	result.Funding = funding
	result.Skipped += skipped

	if result.Skipped > 0 {
		s.logger.WarnContext(ctx, "pipeline: venue records skipped during sync",
			slog.String("source", s.scope.Source),
			slog.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

func (s *Scraper) scrapeFills(ctx context.Context, now time.Time) (int, int, error) {
	last, err := s.fills.GetLastTimestamp(ctx, s.scope)
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline: fill checkpoint: %w", err)
	}
	start := s.windowStart(last, now)

	fills, skipped, err := s.venue.FetchFills(ctx, start, now)
	if err != nil {
		return 0, skipped, fmt.Errorf("pipeline: fetch fills %s: %w", s.scope.Source, err)
	}
	if len(fills) == 0 {
		return 0, skipped, nil
	}
	if err := s.fills.UpsertBatch(ctx, fills); err != nil {
		return 0, skipped, fmt.Errorf("pipeline: upsert fills: %w", err)
	}
	return len(fills), skipped, nil
}

func (s *Scraper) scrapeOrders(ctx context.Context, now time.Time) (int, int, error) {
	last, err := s.orders.GetLastCreatedAt(ctx, s.scope)
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline: order checkpoint: %w", err)
	}
	start := s.windowStart(last, now)

	orders, skipped, err := s.venue.FetchOrders(ctx, start, now)
	if err != nil {
		return 0, skipped, fmt.Errorf("pipeline: fetch orders %s: %w", s.scope.Source, err)
	}
	if len(orders) == 0 {
		return 0, skipped, nil
	}
	if err := s.orders.UpsertBatch(ctx, orders); err != nil {
		return 0, skipped, fmt.Errorf("pipeline: upsert orders: %w", err)
	}
	return len(orders), skipped, nil
}

func (s *Scraper) scrapeFunding(ctx context.Context, now time.Time) (int, int, error) {
	last, err := s.funding.GetLastTimestamp(ctx, s.scope)
	if err != nil {
		return 0, 0, fmt.Errorf("pipeline: funding checkpoint: %w", err)
	}
	start := s.windowStart(last, now)

	events, skipped, err := s.venue.FetchFunding(ctx, start, now)
	if err != nil {
		return 0, skipped, fmt.Errorf("pipeline: fetch funding %s: %w", s.scope.Source, err)
	}
	if len(events) == 0 {
		return 0, skipped, nil
	}
	if err := s.funding.UpsertBatch(ctx, events); err != nil {
		return 0, skipped, fmt.Errorf("pipeline: upsert funding: %w", err)
	}
	return len(events), skipped, nil
}

// windowStart resolves the fetch window's lower bound: the checkpoint minus
// the overlap, or the backfill horizon on the first run.
func (s *Scraper) windowStart(checkpoint, now time.Time) time.Time {
	if checkpoint.IsZero() {
		return now.Add(-s.backfill)
	}
	return checkpoint.Add(-s.overlap)
}

func (s *Scraper) lockKey() string {
	return "sync:" + s.scope.Source + ":" + s.scope.AccountID
}
