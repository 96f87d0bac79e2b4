// Package stats aggregates reconstructed trades into journal-level
// performance figures.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// Outcome classifies a closed trade relative to a breakeven band around zero.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// breakevenBandPct widens the breakeven band with position size, so a $1
// wiggle on a large position still counts as flat.
const breakevenBandPct = 0.0033

// TradeMetrics is the per-trade row behind the aggregate figures.
type TradeMetrics struct {
	TradeID         string
	Symbol          string
	Outcome         Outcome
	GrossPnL        float64
	NetPnL          float64
	EntryNotional   float64
	ReturnPct       *float64
	DurationSeconds float64
}

// Summary is the full aggregate over one set of trades. Optional figures are
// nil when the inputs cannot support them (no closed trades, no losses, no
// resolved stops).
type Summary struct {
	TotalTrades int
	Wins        int
	Losses      int
	Breakevens  int

	WinRate      *float64
	ProfitFactor *float64
	Expectancy   *float64
	AvgWin       *float64
	AvgLoss      *float64
	LargestWin   *float64
	LargestLoss  *float64
	PayoffRatio  *float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	TotalGrossPnL float64
	TotalNetPnL   float64
	TotalFees     float64
	TotalFunding  float64

	AvgDurationSeconds   *float64
	TotalDurationSeconds float64

	MeanMAE   *float64
	MedianMAE *float64
	MeanMFE   *float64
	MedianMFE *float64
	MeanETD   *float64
	MedianETD *float64

	MaxDrawdown    *float64
	MaxDrawdownPct *float64

	AvgR              *float64
	MaxR              *float64
	MinR              *float64
	PctRBelowMinusOne *float64

	ROIPct        *float64
	InitialEquity *float64
	NetReturn     *float64

	AvgTradesPerDay *float64
	MaxTradesInDay  int
	AvgPnLAfterLoss *float64
}

// ComputeTrade derives the per-trade metric row.
func ComputeTrade(trade domain.Trade) TradeMetrics {
	net := trade.RealizedPnLNet()
	notional := trade.EntryPrice * trade.EntrySize
	m := TradeMetrics{
		TradeID:         trade.TradeID,
		Symbol:          trade.Symbol,
		Outcome:         Classify(net, notional),
		GrossPnL:        trade.RealizedPnL,
		NetPnL:          net,
		EntryNotional:   notional,
		DurationSeconds: trade.Duration().Seconds(),
	}
	if notional != 0 {
		ret := net / notional
		m.ReturnPct = &ret
	}
	return m
}

// Classify buckets a net PnL into win, loss, or breakeven. The band scales
// with entry notional so the classification is size-invariant.
func Classify(netPnL, entryNotional float64) Outcome {
	var band float64
	if entryNotional > 0 {
		band = entryNotional * breakevenBandPct
	}
	if math.Abs(netPnL) <= band {
		return OutcomeBreakeven
	}
	if netPnL > 0 {
		return OutcomeWin
	}
	return OutcomeLoss
}

// Aggregate computes the journal summary over trades. initialEquity, when
// non-nil, enables ROI and net-return figures.
func Aggregate(trades []domain.Trade, initialEquity *float64) Summary {
	rows := make([]TradeMetrics, len(trades))
	for i, trade := range trades {
		rows[i] = ComputeTrade(trade)
	}

	var s Summary
	s.TotalTrades = len(rows)

	var totalWin, totalLoss, totalNet float64
	var winPnls, lossPnls []float64
	for _, row := range rows {
		totalNet += row.NetPnL
		switch row.Outcome {
		case OutcomeWin:
			s.Wins++
			totalWin += row.NetPnL
			winPnls = append(winPnls, row.NetPnL)
		case OutcomeLoss:
			s.Losses++
			totalLoss += row.NetPnL
			lossPnls = append(lossPnls, row.NetPnL)
		default:
			s.Breakevens++
		}
		s.TotalDurationSeconds += row.DurationSeconds
	}

	if decided := s.Wins + s.Losses; decided > 0 {
		rate := float64(s.Wins) / float64(decided)
		s.WinRate = &rate
	}
	if totalLoss < 0 {
		pf := totalWin / math.Abs(totalLoss)
		s.ProfitFactor = &pf
	}
	if s.TotalTrades > 0 {
		exp := totalNet / float64(s.TotalTrades)
		s.Expectancy = &exp
		avgDur := s.TotalDurationSeconds / float64(s.TotalTrades)
		s.AvgDurationSeconds = &avgDur
	}
	if s.Wins > 0 {
		avg := totalWin / float64(s.Wins)
		s.AvgWin = &avg
		s.LargestWin = maxOf(winPnls)
	}
	if s.Losses > 0 {
		avg := totalLoss / float64(s.Losses)
		s.AvgLoss = &avg
		s.LargestLoss = minOf(lossPnls)
	}
	if s.AvgWin != nil && s.AvgLoss != nil && *s.AvgLoss != 0 {
		payoff := *s.AvgWin / math.Abs(*s.AvgLoss)
		s.PayoffRatio = &payoff
	}

	s.MaxConsecutiveWins, s.MaxConsecutiveLosses = maxStreaks(trades)

	var maeValues, mfeValues, etdValues, rValues []float64
	for _, trade := range trades {
		s.TotalGrossPnL += trade.RealizedPnL
		s.TotalNetPnL += trade.RealizedPnLNet()
		s.TotalFees += trade.Fees
		s.TotalFunding += trade.FundingFees
		if trade.MAE != nil {
			maeValues = append(maeValues, *trade.MAE)
		}
		if trade.MFE != nil {
			mfeValues = append(mfeValues, *trade.MFE)
		}
		if trade.ETD != nil {
			etdValues = append(etdValues, *trade.ETD)
		}
		if trade.RMultiple != nil {
			rValues = append(rValues, *trade.RMultiple)
		}
	}
	s.MeanMAE, s.MedianMAE = mean(maeValues), median(maeValues)
	s.MeanMFE, s.MedianMFE = mean(mfeValues), median(mfeValues)
	s.MeanETD, s.MedianETD = mean(etdValues), median(etdValues)

	s.MaxDrawdown, s.MaxDrawdownPct = maxDrawdown(trades)

	s.AvgR = mean(rValues)
	s.MaxR = maxOf(rValues)
	s.MinR = minOf(rValues)
	if len(rValues) > 0 {
		below := 0
		for _, r := range rValues {
			if r < -1.0 {
				below++
			}
		}
		pct := float64(below) / float64(len(rValues))
		s.PctRBelowMinusOne = &pct
	}

	if initialEquity != nil {
		s.InitialEquity = initialEquity
		net := s.TotalNetPnL
		s.NetReturn = &net
		if *initialEquity != 0 {
			roi := s.TotalNetPnL / *initialEquity
			s.ROIPct = &roi
		}
	}

	s.AvgTradesPerDay, s.MaxTradesInDay = tradeCountsByDay(trades)
	s.AvgPnLAfterLoss = avgPnLAfterLoss(trades)

	return s
}

// SymbolRow is one per-symbol line in the breakdown table.
type SymbolRow struct {
	Symbol       string
	Trades       int
	WinRate      *float64
	TotalNetPnL  float64
	AvgNetPnL    *float64
	AvgWin       *float64
	AvgLoss      *float64
	ProfitFactor *float64
}

// SymbolBreakdown aggregates trades per symbol, sorted by symbol name.
func SymbolBreakdown(trades []domain.Trade) []SymbolRow {
	buckets := make(map[string][]domain.Trade)
	for _, trade := range trades {
		buckets[trade.Symbol] = append(buckets[trade.Symbol], trade)
	}
	symbols := make([]string, 0, len(buckets))
	for symbol := range buckets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	rows := make([]SymbolRow, 0, len(symbols))
	for _, symbol := range symbols {
		agg := Aggregate(buckets[symbol], nil)
		rows = append(rows, SymbolRow{
			Symbol:       symbol,
			Trades:       agg.TotalTrades,
			WinRate:      agg.WinRate,
			TotalNetPnL:  agg.TotalNetPnL,
			AvgNetPnL:    agg.Expectancy,
			AvgWin:       agg.AvgWin,
			AvgLoss:      agg.AvgLoss,
			ProfitFactor: agg.ProfitFactor,
		})
	}
	return rows
}

// DistributionBin is one histogram bucket of net PnL.
type DistributionBin struct {
	Start float64
	End   float64
	Count int
}

// Distribution is a fixed-bin histogram of per-trade net PnL.
type Distribution struct {
	Min  float64
	Max  float64
	Bins []DistributionBin
}

// PnLDistribution buckets per-trade net PnL into equal-width bins.
func PnLDistribution(trades []domain.Trade, bins int) Distribution {
	if bins <= 0 {
		bins = 20
	}
	values := make([]float64, len(trades))
	for i, trade := range trades {
		values[i] = trade.RealizedPnLNet()
	}
	if len(values) == 0 {
		return Distribution{}
	}
	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if minVal == maxVal {
		return Distribution{
			Min:  minVal,
			Max:  maxVal,
			Bins: []DistributionBin{{Start: minVal, End: maxVal, Count: len(values)}},
		}
	}
	width := (maxVal - minVal) / float64(bins)
	counts := make([]int, bins)
	for _, v := range values {
		idx := int((v - minVal) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	out := Distribution{Min: minVal, Max: maxVal, Bins: make([]DistributionBin, bins)}
	for idx, count := range counts {
		start := minVal + float64(idx)*width
		out.Bins[idx] = DistributionBin{Start: start, End: start + width, Count: count}
	}
	return out
}

// TimeBucket summarizes trades exiting in one hour-of-day or weekday slot.
type TimeBucket struct {
	Bucket   int
	Count    int
	TotalPnL float64
	AvgPnL   float64
	WinRate  *float64
}

// TimePerformance groups net PnL by exit hour (UTC) and exit weekday.
type TimePerformance struct {
	Hourly  []TimeBucket
	Weekday []TimeBucket
}

// ComputeTimePerformance buckets trades by when they closed.
func ComputeTimePerformance(trades []domain.Trade) TimePerformance {
	hourly := make(map[int][]float64)
	weekday := make(map[int][]float64)
	for _, trade := range trades {
		exit := trade.ExitTime.UTC()
		net := trade.RealizedPnLNet()
		hourly[exit.Hour()] = append(hourly[exit.Hour()], net)
		weekday[int(exit.Weekday())] = append(weekday[int(exit.Weekday())], net)
	}
	return TimePerformance{
		Hourly:  bucketRows(hourly),
		Weekday: bucketRows(weekday),
	}
}

// AnnotateEquityAtEntry writes the most recent snapshot at or before each
// trade's entry onto the trade; trades entered before the first snapshot get
// the fallback value when provided.
func AnnotateEquityAtEntry(trades []*domain.Trade, snapshots []domain.EquitySnapshot, fallback *float64) {
	if len(trades) == 0 {
		return
	}
	ordered := make([]*domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EntryTime.Before(ordered[j].EntryTime)
	})
	snaps := append([]domain.EquitySnapshot(nil), snapshots...)
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})

	idx := 0
	var latest *domain.EquitySnapshot
	for _, trade := range ordered {
		for idx < len(snaps) && !snaps[idx].Timestamp.After(trade.EntryTime) {
			latest = &snaps[idx]
			idx++
		}
		if latest != nil {
			value := latest.TotalValue
			trade.EquityAtEntry = &value
		} else {
			trade.EquityAtEntry = fallback
		}
	}
}

func maxStreaks(trades []domain.Trade) (maxWins, maxLosses int) {
	ordered := append([]domain.Trade(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	var curWins, curLosses int
	for _, trade := range ordered {
		switch Classify(trade.RealizedPnLNet(), trade.EntryPrice*trade.EntrySize) {
		case OutcomeWin:
			curWins++
			curLosses = 0
		case OutcomeLoss:
			curLosses++
			curWins = 0
		default:
			curWins, curLosses = 0, 0
		}
		if curWins > maxWins {
			maxWins = curWins
		}
		if curLosses > maxLosses {
			maxLosses = curLosses
		}
	}
	return maxWins, maxLosses
}

// maxDrawdown walks the cumulative net-PnL curve in exit order and reports
// the deepest peak-to-trough fall. Both figures are nil for a curve that
// never falls.
func maxDrawdown(trades []domain.Trade) (*float64, *float64) {
	ordered := append([]domain.Trade(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	var equity, peak, maxDD float64
	var maxDDPct *float64
	for _, trade := range ordered {
		equity += trade.RealizedPnLNet()
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > maxDD {
			maxDD = dd
			if peak > 0 {
				pct := dd / peak
				maxDDPct = &pct
			} else {
				maxDDPct = nil
			}
		}
	}
	if maxDD == 0 {
		return nil, nil
	}
	return &maxDD, maxDDPct
}

func tradeCountsByDay(trades []domain.Trade) (*float64, int) {
	buckets := make(map[string]int)
	for _, trade := range trades {
		buckets[trade.ExitTime.UTC().Format(time.DateOnly)]++
	}
	if len(buckets) == 0 {
		return nil, 0
	}
	total, maxCount := 0, 0
	for _, count := range buckets {
		total += count
		if count > maxCount {
			maxCount = count
		}
	}
	avg := float64(total) / float64(len(buckets))
	return &avg, maxCount
}

func avgPnLAfterLoss(trades []domain.Trade) *float64 {
	ordered := append([]domain.Trade(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})
	var values []float64
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].RealizedPnLNet() < 0 {
			values = append(values, ordered[i].RealizedPnLNet())
		}
	}
	return mean(values)
}

func bucketRows(buckets map[int][]float64) []TimeBucket {
	keys := make([]int, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Ints(keys)

	rows := make([]TimeBucket, 0, len(keys))
	for _, key := range keys {
		values := buckets[key]
		var total float64
		wins, losses := 0, 0
		for _, v := range values {
			total += v
			if v > 0 {
				wins++
			} else if v < 0 {
				losses++
			}
		}
		row := TimeBucket{
			Bucket:   key,
			Count:    len(values),
			TotalPnL: total,
			AvgPnL:   total / float64(len(values)),
		}
		if wins+losses > 0 {
			rate := float64(wins) / float64(wins+losses)
			row.WinRate = &rate
		}
		rows = append(rows, row)
	}
	return rows
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	ordered := append([]float64(nil), values...)
	sort.Float64s(ordered)
	mid := len(ordered) / 2
	if len(ordered)%2 == 1 {
		return &ordered[mid]
	}
	m := (ordered[mid-1] + ordered[mid]) / 2
	return &m
}

func maxOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}

func minOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return &m
}
