package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

func minuteBars(start time.Time, n int) []domain.PriceBar {
	bars := make([]domain.PriceBar, n)
	for i := range bars {
		s := start.Add(time.Duration(i) * time.Minute)
		bars[i] = domain.PriceBar{
			StartTime: s,
			EndTime:   s.Add(time.Minute),
			Open:      100, High: 101, Low: 99, Close: 100.5,
		}
	}
	return bars
}

// fakeBarCache is an in-memory PriceBarCache keyed by series.
type fakeBarCache struct {
	bars map[string][]domain.PriceBar
	sets int
}

func newFakeBarCache() *fakeBarCache {
	return &fakeBarCache{bars: make(map[string][]domain.PriceBar)}
}

func (c *fakeBarCache) key(source, symbol, tf string) string { return source + ":" + symbol + ":" + tf }

func (c *fakeBarCache) SetRange(_ context.Context, source, symbol, tf string, bars []domain.PriceBar) error {
	c.sets++
	c.bars[c.key(source, symbol, tf)] = bars
	return nil
}

func (c *fakeBarCache) GetRange(_ context.Context, source, symbol, tf string, start, end time.Time) ([]domain.PriceBar, error) {
	var out []domain.PriceBar
	for _, b := range c.bars[c.key(source, symbol, tf)] {
		if !b.StartTime.Before(start) && b.StartTime.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *fakeBarCache) Invalidate(_ context.Context, source, symbol, tf string) error {
	delete(c.bars, c.key(source, symbol, tf))
	return nil
}

// fakeBarStore is an in-memory PriceBarStore.
type fakeBarStore struct {
	bars []domain.PriceBar
}

func (s *fakeBarStore) UpsertBatch(_ context.Context, _, _, _ string, bars []domain.PriceBar) error {
	s.bars = append(s.bars, bars...)
	return nil
}

func (s *fakeBarStore) ListRange(_ context.Context, _, _, _ string, start, end time.Time) ([]domain.PriceBar, error) {
	var out []domain.PriceBar
	for _, b := range s.bars {
		if !b.StartTime.Before(start) && b.StartTime.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// fakeFetcher serves bars from a fixed series and counts calls.
type fakeFetcher struct {
	series []domain.PriceBar
	calls  int
}

func (f *fakeFetcher) FetchBars(_ context.Context, _, _ string, startMs, endMs int64) ([]domain.PriceBar, error) {
	f.calls++
	var out []domain.PriceBar
	for _, b := range f.series {
		ms := b.StartTime.UnixMilli()
		if ms >= startMs && ms < endMs {
			out = append(out, b)
		}
	}
	return out, nil
}

func newTestPriceService(t *testing.T, cache domain.PriceBarCache, store domain.PriceBarStore, fetcher BarFetcher, maxBars int) *PriceService {
	t.Helper()
	svc, err := NewPriceService(
		cache, store,
		map[string]BarFetcher{"apex": fetcher},
		nil, "1m", 1, maxBars, slog.Default(),
	)
	require.NoError(t, err)
	return svc
}

func TestBarsForWindowServedFromCache(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := newFakeBarCache()
	// Cache covers the padded window [11:58, 12:11).
	cache.bars["apex:BTC-USDT:1m"] = minuteBars(base.Add(-2*time.Minute), 13)
	fetcher := &fakeFetcher{}

	svc := newTestPriceService(t, cache, &fakeBarStore{}, fetcher, 1000)

	bars, err := svc.BarsForWindow(context.Background(), "apex", "BTC-USDT", base, base.Add(9*time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, bars)
	assert.Zero(t, fetcher.calls, "cache hit must not reach the venue")
}

func TestBarsForWindowFallsBackToStore(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := newFakeBarCache()
	store := &fakeBarStore{bars: minuteBars(base.Add(-5*time.Minute), 20)}
	fetcher := &fakeFetcher{}

	svc := newTestPriceService(t, cache, store, fetcher, 1000)

	bars, err := svc.BarsForWindow(context.Background(), "apex", "BTC-USDT", base, base.Add(9*time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, bars)
	assert.Zero(t, fetcher.calls)
	assert.Equal(t, 1, cache.sets, "store hit is written back to the cache")
}

func TestBarsForWindowFetchesAndPersists(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := newFakeBarCache()
	store := &fakeBarStore{}
	fetcher := &fakeFetcher{series: minuteBars(base.Add(-10*time.Minute), 40)}

	svc := newTestPriceService(t, cache, store, fetcher, 1000)

	bars, err := svc.BarsForWindow(context.Background(), "apex", "BTC-USDT", base, base.Add(9*time.Minute))
	require.NoError(t, err)
	assert.True(t, domain.CoversWindow(bars, base, base.Add(9*time.Minute)))
	assert.Equal(t, 1, fetcher.calls)
	assert.NotEmpty(t, store.bars, "fetched bars are persisted")
}

func TestBarsForWindowChunksVenueRequests(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{series: minuteBars(base.Add(-10*time.Minute), 60)}

	// maxBars 5 forces the padded ~12 minute window into multiple requests.
	svc := newTestPriceService(t, newFakeBarCache(), &fakeBarStore{}, fetcher, 5)

	_, err := svc.BarsForWindow(context.Background(), "apex", "BTC-USDT", base, base.Add(9*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fetcher.calls, 2)
}

func TestBarsForWindowUnknownVenue(t *testing.T) {
	svc := newTestPriceService(t, newFakeBarCache(), &fakeBarStore{}, &fakeFetcher{}, 1000)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := svc.BarsForWindow(context.Background(), "unknown", "BTC-USDT", base, base.Add(time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bar source")
}

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1m", time.Minute},
		{"5m", 5 * time.Minute},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := intervalDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "m", "0m", "1w", "abc"} {
		_, err := intervalDuration(bad)
		assert.Error(t, err, bad)
	}
}
