package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/platform/hyperliquid"
	"github.com/perptools/journal/internal/service"
)

// liveDebounce batches ws fill bursts into one journal rebuild.
const liveDebounce = 5 * time.Second

// LiveFeed streams fills over the venue WebSocket and triggers a journal
// rebuild shortly after new fills land, so the journal converges between
// polling ticks. Snapshot batches on connect are ignored; the scraper already
// covers history.
type LiveFeed struct {
	ws      *hyperliquid.WSClient
	scope   domain.AccountScope
	fills   domain.FillStore
	journal *service.JournalService
	logger  *slog.Logger

	dirty chan struct{}
}

// NewLiveFeed creates a LiveFeed for one Hyperliquid scope.
func NewLiveFeed(
	ws *hyperliquid.WSClient,
	scope domain.AccountScope,
	fills domain.FillStore,
	journal *service.JournalService,
	logger *slog.Logger,
) *LiveFeed {
	return &LiveFeed{
		ws:      ws,
		scope:   scope,
		fills:   fills,
		journal: journal,
		logger:  logger,
		dirty:   make(chan struct{}, 1),
	}
}

// Run connects the WebSocket and blocks until the context is cancelled,
// rebuilding the journal after each debounced burst of live fills.
func (f *LiveFeed) Run(ctx context.Context) error {
	f.ws.OnFills(func(fills []domain.Fill, snapshot bool) {
		if snapshot || len(fills) == 0 {
			return
		}
		if err := f.fills.UpsertBatch(ctx, fills); err != nil {
			f.logger.WarnContext(ctx, "live feed: upsert fills failed",
				slog.String("source", f.scope.Source),
				slog.String("error", err.Error()),
			)
			return
		}
		f.logger.InfoContext(ctx, "live feed: fills received",
			slog.String("source", f.scope.Source),
			slog.Int("count", len(fills)),
		)
		select {
		case f.dirty <- struct{}{}:
		default:
		}
	})

	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	defer f.ws.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-f.dirty:
			if timer == nil {
				timer = time.NewTimer(liveDebounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-fire
				}
				timer.Reset(liveDebounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			if _, err := f.journal.Process(ctx, f.scope); err != nil {
				f.logger.ErrorContext(ctx, "live feed: journal rebuild failed",
					slog.String("source", f.scope.Source),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
