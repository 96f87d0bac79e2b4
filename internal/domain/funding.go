package domain

import "time"

// FundingEvent is one funding payment or charge on a perpetual position,
// normalized per venue by the ingestion layer.
type FundingEvent struct {
	FundingID     string // may be empty
	TransactionID string // may be empty
	Symbol        string
	Side          TradeSide
	Rate          float64
	PositionSize  float64
	Price         float64
	FundingTime   time.Time
	FundingValue  float64 // signed cash flow: positive is received
	Status        string
	Source        string
	AccountID     string
	Raw           map[string]any
}

// EquitySnapshot is a point-in-time account value reading used to annotate
// trades with the equity available when they were entered.
type EquitySnapshot struct {
	Timestamp  time.Time
	TotalValue float64
	Source     string
	AccountID  string
}
