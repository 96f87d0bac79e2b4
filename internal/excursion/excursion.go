// Package excursion replays a closed trade against its covering price bars
// to compute maximum adverse/favorable excursion and give-back (ETD).
//
// Bar highs and lows describe the whole bar, but a trade may open or close
// mid-bar. Sampling a boundary bar's extremes would leak pre-entry or
// post-exit price action into the trade's statistics, so boundary bars are
// sampled from the trade's own fill prices instead:
//
//   - bar holds entry and exit: entry fill price at entry time and exit fill
//     price at exit time, never the bar's high/low
//   - bar holds only the entry: entry fill price at entry time plus the bar
//     close at bar end (post-entry movement without pre-entry bias)
//   - bar holds only the exit: exit fill price at exit time only
//   - fully interior bar: high and low, both at bar end
package excursion

import (
	"fmt"
	"math"
	"sort"

	"github.com/perptools/journal/internal/domain"
)

const epsilon = 1e-9

// Metrics carries the excursion results for one trade. All values are gross
// PnL, consistent with the replay which excludes fees and funding.
type Metrics struct {
	MAE float64 // worst total PnL reached while the trade was open
	MFE float64 // best total PnL reached while the trade was open
	ETD float64 // favorable excursion given up by the close: MFE - realized
}

// Compute replays the trade against bars and returns its excursion metrics.
// The bars must span [entry_time, exit_time]; a domain.ErrCoverage failure
// is returned otherwise. If no price sample lands inside the trade window
// the result is a domain.ErrNoSamples failure, surfaced to the caller rather
// than silently defaulted.
func Compute(trade domain.Trade, bars []domain.PriceBar) (Metrics, error) {
	ordered := append([]domain.PriceBar(nil), bars...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartTime.Before(ordered[j].StartTime) })

	if !domain.CoversWindow(ordered, trade.EntryTime, trade.ExitTime) {
		return Metrics{}, fmt.Errorf("excursion: trade %s window %s -> %s: %w",
			trade.Symbol,
			trade.EntryTime.Format("2006-01-02T15:04:05Z07:00"),
			trade.ExitTime.Format("2006-01-02T15:04:05Z07:00"),
			domain.ErrCoverage)
	}

	samples := boundarySamples(trade, ordered)
	min, max, ok := replay(trade, samples)
	if !ok {
		return Metrics{}, fmt.Errorf("excursion: trade %s window %s -> %s: %w",
			trade.Symbol,
			trade.EntryTime.Format("2006-01-02T15:04:05Z07:00"),
			trade.ExitTime.Format("2006-01-02T15:04:05Z07:00"),
			domain.ErrNoSamples)
	}

	return Metrics{
		MAE: min,
		MFE: max,
		ETD: max - trade.RealizedPnL,
	}, nil
}

// Apply computes the metrics and writes them onto the trade.
func Apply(trade *domain.Trade, bars []domain.PriceBar) error {
	m, err := Compute(*trade, bars)
	if err != nil {
		return err
	}
	trade.MAE = &m.MAE
	trade.MFE = &m.MFE
	trade.ETD = &m.ETD
	return nil
}

// boundarySamples derives price samples from the bars per the sampling
// policy above. Bars entirely before entry or after exit contribute nothing.
func boundarySamples(trade domain.Trade, bars []domain.PriceBar) []domain.PriceSample {
	entryPrice, exitPrice := boundaryPrices(trade)

	var samples []domain.PriceSample
	for _, bar := range bars {
		if !bar.EndTime.After(trade.EntryTime) || bar.StartTime.After(trade.ExitTime) {
			continue
		}
		hasEntry := bar.Contains(trade.EntryTime)
		hasExit := bar.Contains(trade.ExitTime)

		switch {
		case hasEntry && hasExit:
			samples = append(samples,
				domain.PriceSample{Timestamp: trade.EntryTime, Price: entryPrice},
				domain.PriceSample{Timestamp: trade.ExitTime, Price: exitPrice},
			)
		case hasEntry:
			samples = append(samples,
				domain.PriceSample{Timestamp: trade.EntryTime, Price: entryPrice},
				domain.PriceSample{Timestamp: bar.EndTime, Price: bar.Close},
			)
		case hasExit:
			samples = append(samples,
				domain.PriceSample{Timestamp: trade.ExitTime, Price: exitPrice},
			)
		default:
			samples = append(samples,
				domain.PriceSample{Timestamp: bar.EndTime, Price: bar.High},
				domain.PriceSample{Timestamp: bar.EndTime, Price: bar.Low},
			)
		}
	}
	return samples
}

// boundaryPrices returns the first and last fill prices of the trade,
// falling back to the volume-weighted entry/exit prices when the fill list
// is absent.
func boundaryPrices(trade domain.Trade) (entry, exit float64) {
	entry, exit = trade.EntryPrice, trade.ExitPrice
	if len(trade.Fills) == 0 {
		return entry, exit
	}
	fills := sortedFills(trade)
	return fills[0].Price, fills[len(fills)-1].Price
}

// replay merges the trade's fills and the derived samples into one
// chronological stream. Fills move the running position exactly as the
// ledger does; each sample with a non-flat position contributes a total-PnL
// point (realized so far plus unrealized at the sample price). Samples are
// ordered before fills sharing the same timestamp so fills strictly inside
// a bar update the position before that bar's extremes apply.
func replay(trade domain.Trade, samples []domain.PriceSample) (min, max float64, ok bool) {
	fills := sortedFills(trade)
	ordered := append([]domain.PriceSample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	var (
		size     float64
		avgEntry float64
		realized float64
	)

	fi, si := 0, 0
	for fi < len(fills) || si < len(ordered) {
		if fi < len(fills) && (si >= len(ordered) || fills[fi].Timestamp.Before(ordered[si].Timestamp)) {
			size, avgEntry, realized = step(size, avgEntry, realized, fills[fi])
			fi++
			continue
		}
		if si >= len(ordered) {
			break
		}
		sample := ordered[si]
		si++
		if sample.Timestamp.Before(trade.EntryTime) || sample.Timestamp.After(trade.ExitTime) {
			continue
		}
		if math.Abs(size) < epsilon {
			continue
		}
		total := realized + (sample.Price-avgEntry)*size
		if !ok {
			min, max, ok = total, total, true
			continue
		}
		min = math.Min(min, total)
		max = math.Max(max, total)
	}
	return min, max, ok
}

// step applies one fill to the running position using the ledger's
// add/reduce rules, returning the updated state.
func step(size, avgEntry, realized float64, fill domain.Fill) (float64, float64, float64) {
	signed := fill.SignedSize()

	if math.Abs(size) < epsilon {
		return signed, fill.Price, realized
	}
	if size*signed > 0 {
		newAbs := math.Abs(size) + math.Abs(signed)
		avgEntry = (avgEntry*math.Abs(size) + fill.Price*math.Abs(signed)) / newAbs
		return size + signed, avgEntry, realized
	}

	closeQty := math.Min(math.Abs(signed), math.Abs(size))
	direction := 1.0
	if size < 0 {
		direction = -1.0
	}
	realized += (fill.Price - avgEntry) * closeQty * direction

	leftover := math.Abs(signed) - math.Abs(size)
	switch {
	case leftover < -epsilon:
		return size + signed, avgEntry, realized
	case leftover < epsilon:
		return 0, 0, realized
	default:
		newSize := leftover
		if signed < 0 {
			newSize = -leftover
		}
		return newSize, fill.Price, realized
	}
}

func sortedFills(trade domain.Trade) []domain.Fill {
	fills := append([]domain.Fill(nil), trade.Fills...)
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Timestamp.Before(fills[j].Timestamp) })
	return fills
}
