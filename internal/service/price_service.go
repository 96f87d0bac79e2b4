// Package service orchestrates the journal: price coverage, reconstruction,
// enrichment, persistence, and the read APIs the dashboard serves.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// BarFetcher fetches OHLC bars from one venue. Both platform clients satisfy
// this with their kline endpoints.
type BarFetcher interface {
	FetchBars(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]domain.PriceBar, error)
}

// PriceService resolves the bars covering a time window, reading through the
// cache and the store before hitting the venue. Fetched bars are written back
// to both layers so repeated excursion runs stay off the kline endpoints.
type PriceService struct {
	cache    domain.PriceBarCache
	store    domain.PriceBarStore
	venues   map[string]BarFetcher
	limiter  domain.RateLimiter
	interval string
	step     time.Duration
	padBars  int
	maxBars  int
	logger   *slog.Logger
}

// NewPriceService creates a PriceService. interval is the bar timeframe
// (e.g. "1m"); padBars widens every requested window by that many bars on
// each side; maxBars caps a single venue request.
func NewPriceService(
	cache domain.PriceBarCache,
	store domain.PriceBarStore,
	venues map[string]BarFetcher,
	limiter domain.RateLimiter,
	interval string,
	padBars, maxBars int,
	logger *slog.Logger,
) (*PriceService, error) {
	step, err := intervalDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("price_service: %w", err)
	}
	return &PriceService{
		cache:    cache,
		store:    store,
		venues:   venues,
		limiter:  limiter,
		interval: interval,
		step:     step,
		padBars:  padBars,
		maxBars:  maxBars,
		logger:   logger,
	}, nil
}

// Interval returns the configured bar timeframe.
func (s *PriceService) Interval() string {
	return s.interval
}

// BarsForWindow returns bars covering [start, end] for one symbol, padded by
// the configured margin. Bars come from the cache when the cached slice
// covers the window, then the store, then the venue. Venue fetches are
// persisted and cached before returning.
func (s *PriceService) BarsForWindow(ctx context.Context, source, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	pad := time.Duration(s.padBars) * s.step
	from := start.Add(-pad).Truncate(s.step)
	to := end.Add(pad + s.step).Truncate(s.step)

	if s.cache != nil {
		bars, err := s.cache.GetRange(ctx, source, symbol, s.interval, from, to)
		if err != nil {
			s.logger.WarnContext(ctx, "price_service: cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		} else if domain.CoversWindow(bars, start, end) {
			return bars, nil
		}
	}

	bars, err := s.store.ListRange(ctx, source, symbol, s.interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("price_service: store read %s/%s: %w", source, symbol, err)
	}
	if domain.CoversWindow(bars, start, end) {
		s.cacheBars(ctx, source, symbol, bars)
		return bars, nil
	}

	fetched, err := s.fetchFromVenue(ctx, source, symbol, from, to)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertBatch(ctx, source, symbol, s.interval, fetched); err != nil {
		return nil, fmt.Errorf("price_service: persist bars %s/%s: %w", source, symbol, err)
	}
	s.cacheBars(ctx, source, symbol, fetched)

	// Re-read from the store so earlier partial coverage and the new fetch
	// merge into one contiguous slice.
	bars, err = s.store.ListRange(ctx, source, symbol, s.interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("price_service: store re-read %s/%s: %w", source, symbol, err)
	}
	return bars, nil
}

// fetchFromVenue pulls the window from the venue kline endpoint in chunks of
// at most maxBars, honoring the per-venue rate budget.
func (s *PriceService) fetchFromVenue(ctx context.Context, source, symbol string, from, to time.Time) ([]domain.PriceBar, error) {
	venue, ok := s.venues[source]
	if !ok {
		return nil, fmt.Errorf("price_service: no bar source for venue %q", source)
	}

	chunk := time.Duration(s.maxBars) * s.step
	if chunk <= 0 {
		chunk = to.Sub(from)
	}

	var bars []domain.PriceBar
	for cur := from; cur.Before(to); cur = cur.Add(chunk) {
		chunkEnd := cur.Add(chunk)
		if chunkEnd.After(to) {
			chunkEnd = to
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, "bars:"+source); err != nil {
				return nil, fmt.Errorf("price_service: rate limit: %w", err)
			}
		}

		got, err := venue.FetchBars(ctx, symbol, s.interval, cur.UnixMilli(), chunkEnd.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("price_service: fetch bars %s/%s: %w", source, symbol, err)
		}
		bars = append(bars, got...)
	}
	return bars, nil
}

func (s *PriceService) cacheBars(ctx context.Context, source, symbol string, bars []domain.PriceBar) {
	if s.cache == nil || len(bars) == 0 {
		return
	}
	if err := s.cache.SetRange(ctx, source, symbol, s.interval, bars); err != nil {
		s.logger.WarnContext(ctx, "price_service: cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// intervalDuration parses a timeframe string ("1m", "4h", "1d") into a
// duration.
func intervalDuration(interval string) (time.Duration, error) {
	text := strings.ToLower(strings.TrimSpace(interval))
	if len(text) < 2 {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	n, err := strconv.Atoi(text[:len(text)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	switch text[len(text)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
}
