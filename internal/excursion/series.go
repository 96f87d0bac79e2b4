package excursion

import (
	"math"
	"sort"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// SeriesPoint is one mark-to-market observation for plotting. It is a lossy
// display derivative: unlike the excursion replay it prices the position at
// the plain bar close.
type SeriesPoint struct {
	Timestamp         time.Time
	Open              float64
	High              float64
	Low               float64
	Close             float64
	EntryReturn       *float64 // (close/avgEntry - 1) adjusted for direction
	PerUnitUnrealized *float64 // (close - avgEntry) adjusted for direction
}

// Series produces one point per bar overlapping the trade's lifetime, with
// the running average entry price advanced by every fill up to the bar end.
func Series(trade domain.Trade, bars []domain.PriceBar) []SeriesPoint {
	if len(bars) == 0 {
		return nil
	}
	ordered := append([]domain.PriceBar(nil), bars...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartTime.Before(ordered[j].StartTime) })
	fills := sortedFills(trade)

	direction := 1.0
	if trade.Side == domain.TradeSideShort {
		direction = -1.0
	}

	var (
		size     float64
		avgEntry float64
		realized float64
		fi       int
		points   []SeriesPoint
	)

	for _, bar := range ordered {
		if bar.EndTime.Before(trade.EntryTime) || bar.StartTime.After(trade.ExitTime) {
			continue
		}
		for fi < len(fills) && !fills[fi].Timestamp.After(bar.EndTime) {
			size, avgEntry, realized = step(size, avgEntry, realized, fills[fi])
			fi++
		}

		point := SeriesPoint{
			Timestamp: bar.EndTime,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
		}
		if math.Abs(size) >= epsilon && avgEntry != 0 {
			ret := (bar.Close/avgEntry - 1.0) * direction
			perUnit := (bar.Close - avgEntry) * direction
			point.EntryReturn = &ret
			point.PerUnitUnrealized = &perUnit
		}
		points = append(points, point)
	}

	return points
}

// Downsample reduces points to at most max entries by stride sampling,
// always keeping the final point. max <= 0 means no limit.
func Downsample(points []SeriesPoint, max int) []SeriesPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	stride := len(points) / max
	if stride < 1 {
		stride = 1
	}
	sampled := make([]SeriesPoint, 0, max+1)
	for i := 0; i < len(points); i += stride {
		sampled = append(sampled, points[i])
	}
	if len(sampled) == 0 || !sampled[len(sampled)-1].Timestamp.Equal(points[len(points)-1].Timestamp) {
		sampled = append(sampled, points[len(points)-1])
	}
	return sampled
}
