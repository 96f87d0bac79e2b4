package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perptools/journal/internal/domain"
)

// PriceBarCache implements domain.PriceBarCache using Redis sorted sets.
// Bars for one (source, symbol, timeframe) series live in a single set at
// "bars:{source}:{symbol}:{timeframe}", scored by the bar's start time in
// Unix milliseconds, so range reads map directly onto ZRANGEBYSCORE.
type PriceBarCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceBarCache creates a PriceBarCache backed by the given Client. Each
// series key expires ttl after its last write.
func NewPriceBarCache(c *Client, ttl time.Duration) *PriceBarCache {
	return &PriceBarCache{rdb: c.Underlying(), ttl: ttl}
}

func barKey(source, symbol, timeframe string) string {
	return "bars:" + source + ":" + symbol + ":" + timeframe
}

type cachedBar struct {
	Start int64   `json:"s"`
	End   int64   `json:"e"`
	Open  float64 `json:"o"`
	High  float64 `json:"h"`
	Low   float64 `json:"l"`
	Close float64 `json:"c"`
}

// SetRange stores bars in the series set and refreshes the key's TTL.
// Re-adding an existing bar overwrites nothing: the member encoding is
// deterministic, so duplicates collapse.
func (pc *PriceBarCache) SetRange(ctx context.Context, source, symbol, timeframe string, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	key := barKey(source, symbol, timeframe)

	members := make([]redis.Z, 0, len(bars))
	for _, b := range bars {
		data, err := json.Marshal(cachedBar{
			Start: b.StartTime.UnixMilli(),
			End:   b.EndTime.UnixMilli(),
			Open:  b.Open,
			High:  b.High,
			Low:   b.Low,
			Close: b.Close,
		})
		if err != nil {
			return fmt.Errorf("redis: marshal bar: %w", err)
		}
		members = append(members, redis.Z{
			Score:  float64(b.StartTime.UnixMilli()),
			Member: string(data),
		})
	}

	pipe := pc.rdb.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bar range %s: %w", key, err)
	}
	return nil
}

// GetRange returns cached bars whose start time falls in [start, end),
// ordered by start time ascending. A series with no cached bars in the window
// yields an empty slice, not an error.
func (pc *PriceBarCache) GetRange(ctx context.Context, source, symbol, timeframe string, start, end time.Time) ([]domain.PriceBar, error) {
	key := barKey(source, symbol, timeframe)

	raw, err := pc.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get bar range %s: %w", key, err)
	}

	bars := make([]domain.PriceBar, 0, len(raw))
	for _, item := range raw {
		var cb cachedBar
		if err := json.Unmarshal([]byte(item), &cb); err != nil {
			continue // skip corrupt members rather than failing the read
		}
		bars = append(bars, domain.PriceBar{
			StartTime: time.UnixMilli(cb.Start).UTC(),
			EndTime:   time.UnixMilli(cb.End).UTC(),
			Open:      cb.Open,
			High:      cb.High,
			Low:       cb.Low,
			Close:     cb.Close,
		})
	}
	return bars, nil
}

// Invalidate drops the whole cached series.
func (pc *PriceBarCache) Invalidate(ctx context.Context, source, symbol, timeframe string) error {
	if err := pc.rdb.Del(ctx, barKey(source, symbol, timeframe)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate bars %s: %w", barKey(source, symbol, timeframe), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceBarCache = (*PriceBarCache)(nil)
