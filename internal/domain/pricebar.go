package domain

import "time"

// PriceBar is one OHLC candle. StartTime is inclusive, EndTime exclusive.
type PriceBar struct {
	StartTime time.Time
	EndTime   time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Contains reports whether ts falls inside the bar's [start, end) window.
// The bar's end instant belongs to the next bar.
func (b PriceBar) Contains(ts time.Time) bool {
	return !ts.Before(b.StartTime) && ts.Before(b.EndTime)
}

// PriceSample is a single observed price used during excursion replay.
type PriceSample struct {
	Timestamp time.Time
	Price     float64
}

// CoversWindow reports whether the ordered bar slice spans [start, end].
// Coverage is judged on the outermost bar boundaries only; gap checking is
// the bar provider's responsibility.
func CoversWindow(bars []PriceBar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	return !bars[0].StartTime.After(start) && !bars[len(bars)-1].EndTime.Before(end)
}
