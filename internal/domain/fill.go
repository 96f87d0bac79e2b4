package domain

import "time"

// FillSide indicates the taker direction of an execution.
type FillSide string

const (
	FillSideBuy  FillSide = "BUY"
	FillSideSell FillSide = "SELL"
)

// FillOrigin records whether a fill is a venue execution or a synthetic slice
// produced when a single execution both closes one leg and opens the next.
type FillOrigin string

const (
	OriginWhole      FillOrigin = "whole"
	OriginSplitClose FillOrigin = "split_close"
	OriginSplitOpen  FillOrigin = "split_open"
)

// Fill is one matched execution, already validated and normalized by the
// venue ingestion layer: price and size are positive and the side is known.
type Fill struct {
	FillID    string // may be empty
	OrderID   string // may be empty
	Symbol    string
	Side      FillSide
	Price     float64
	Size      float64
	Fee       float64
	FeeAsset  string // may be empty
	Timestamp time.Time
	Source    string // venue tag, e.g. "apex", "hyperliquid"
	AccountID string // may be empty
	Origin    FillOrigin
	Raw       map[string]any
}

// SignedSize returns the fill quantity signed by direction: positive for
// buys, negative for sells.
func (f Fill) SignedSize() float64 {
	if f.Side == FillSideBuy {
		return f.Size
	}
	return -f.Size
}
