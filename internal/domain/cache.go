package domain

import (
	"context"
	"time"
)

// PriceBarCache provides fast access to recently fetched bar windows so
// repeated excursion runs do not re-hit the venue kline endpoints.
type PriceBarCache interface {
	SetRange(ctx context.Context, source, symbol, timeframe string, bars []PriceBar) error
	GetRange(ctx context.Context, source, symbol, timeframe string, start, end time.Time) ([]PriceBar, error)
	Invalidate(ctx context.Context, source, symbol, timeframe string) error
}

// RateLimiter provides distributed rate limiting for venue API budgets.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking, used to keep concurrent sync
// runs from interleaving on the same account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for journal events
// (sync completed, trades updated, coverage failures).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
