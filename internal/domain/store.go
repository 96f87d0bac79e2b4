package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountScope narrows a query to one venue account. Empty fields match all.
type AccountScope struct {
	Source    string
	AccountID string
}

// FillStore persists raw validated fills.
type FillStore interface {
	UpsertBatch(ctx context.Context, fills []Fill) error
	List(ctx context.Context, scope AccountScope, opts ListOpts) ([]Fill, error)
	GetLastTimestamp(ctx context.Context, scope AccountScope) (time.Time, error)
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeStore persists reconstructed, enriched trades.
type TradeStore interface {
	ReplaceForScope(ctx context.Context, scope AccountScope, trades []Trade) error
	List(ctx context.Context, scope AccountScope, opts ListOpts) ([]Trade, error)
	GetByID(ctx context.Context, tradeID string) (Trade, error)
	ListBySymbol(ctx context.Context, scope AccountScope, symbol string, opts ListOpts) ([]Trade, error)
}

// OrderStore persists venue order records.
type OrderStore interface {
	UpsertBatch(ctx context.Context, orders []OrderRecord) error
	List(ctx context.Context, scope AccountScope, symbol string) ([]OrderRecord, error)
	GetLastCreatedAt(ctx context.Context, scope AccountScope) (time.Time, error)
	ListBefore(ctx context.Context, before time.Time) ([]OrderRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FundingStore persists funding events.
type FundingStore interface {
	UpsertBatch(ctx context.Context, events []FundingEvent) error
	List(ctx context.Context, scope AccountScope, opts ListOpts) ([]FundingEvent, error)
	GetLastTimestamp(ctx context.Context, scope AccountScope) (time.Time, error)
	ListBefore(ctx context.Context, before time.Time) ([]FundingEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LiquidationStore persists liquidation events derived from raw venue
// records.
type LiquidationStore interface {
	UpsertBatch(ctx context.Context, events []LiquidationEvent) error
	List(ctx context.Context, scope AccountScope, opts ListOpts) ([]LiquidationEvent, error)
	GetByID(ctx context.Context, scope AccountScope, liquidationID string) (LiquidationEvent, error)
}

// PriceBarStore persists OHLC bars keyed by source, symbol and timeframe.
type PriceBarStore interface {
	UpsertBatch(ctx context.Context, source, symbol, timeframe string, bars []PriceBar) error
	ListRange(ctx context.Context, source, symbol, timeframe string, start, end time.Time) ([]PriceBar, error)
}

// EquityStore persists account value snapshots taken at sync time. The
// history feeds equity-at-entry annotation on trades.
type EquityStore interface {
	Insert(ctx context.Context, snap EquitySnapshot) error
	List(ctx context.Context, scope AccountScope, opts ListOpts) ([]EquitySnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
