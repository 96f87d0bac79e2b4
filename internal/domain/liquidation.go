package domain

import "time"

// LiquidationEvent is a forced position close. Venues rarely expose a
// dedicated liquidation endpoint, so events are derived from liquidation
// markers carried on raw fills and history orders.
type LiquidationEvent struct {
	LiquidationID string
	Source        string
	AccountID     string
	Symbol        string
	Side          TradeSide
	Size          float64

	EntryPrice   *float64
	ExitPrice    *float64
	TotalPnL     *float64
	Fee          *float64
	LiquidateFee *float64

	CreatedAt time.Time
	ExitType  string
	Raw       map[string]any
}
