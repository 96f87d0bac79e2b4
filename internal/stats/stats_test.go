package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

var day0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func closed(id string, exit time.Time, netPnL float64) domain.Trade {
	// entry notional of 1000 keeps the breakeven band at 3.3.
	return domain.Trade{
		TradeID:     id,
		Symbol:      "BTCUSDT",
		Side:        domain.TradeSideLong,
		EntryTime:   exit.Add(-time.Hour),
		ExitTime:    exit,
		EntryPrice:  100,
		EntrySize:   10,
		RealizedPnL: netPnL,
	}
}

func TestClassifyBreakevenBand(t *testing.T) {
	assert.Equal(t, OutcomeBreakeven, Classify(3.0, 1000))
	assert.Equal(t, OutcomeBreakeven, Classify(-3.3, 1000))
	assert.Equal(t, OutcomeWin, Classify(3.4, 1000))
	assert.Equal(t, OutcomeLoss, Classify(-3.4, 1000))
	// Without notional the band collapses to exact zero.
	assert.Equal(t, OutcomeWin, Classify(0.01, 0))
	assert.Equal(t, OutcomeBreakeven, Classify(0, 0))
}

func TestAggregateCoreRatios(t *testing.T) {
	trades := []domain.Trade{
		closed("w1", day0, 100),
		closed("w2", day0.Add(time.Hour), 50),
		closed("l1", day0.Add(2*time.Hour), -50),
		closed("b1", day0.Add(3*time.Hour), 1), // inside the band
	}

	s := Aggregate(trades, nil)
	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 1, s.Breakevens)

	require.NotNil(t, s.WinRate)
	assert.InDelta(t, 2.0/3.0, *s.WinRate, 1e-9)
	require.NotNil(t, s.ProfitFactor)
	assert.InDelta(t, 3.0, *s.ProfitFactor, 1e-9)
	require.NotNil(t, s.Expectancy)
	assert.InDelta(t, 101.0/4.0, *s.Expectancy, 1e-9)
	require.NotNil(t, s.AvgWin)
	assert.InDelta(t, 75.0, *s.AvgWin, 1e-9)
	require.NotNil(t, s.LargestWin)
	assert.InDelta(t, 100.0, *s.LargestWin, 1e-9)
	require.NotNil(t, s.LargestLoss)
	assert.InDelta(t, -50.0, *s.LargestLoss, 1e-9)
	require.NotNil(t, s.PayoffRatio)
	assert.InDelta(t, 1.5, *s.PayoffRatio, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil, nil)
	assert.Zero(t, s.TotalTrades)
	assert.Nil(t, s.WinRate)
	assert.Nil(t, s.ProfitFactor)
	assert.Nil(t, s.Expectancy)
	assert.Nil(t, s.MaxDrawdown)
	assert.Nil(t, s.AvgTradesPerDay)
}

func TestAggregateStreaksFollowExitOrder(t *testing.T) {
	trades := []domain.Trade{
		// Deliberately unordered input.
		closed("t3", day0.Add(2*time.Hour), 80),
		closed("t1", day0, 60),
		closed("t5", day0.Add(4*time.Hour), -40),
		closed("t2", day0.Add(time.Hour), 70),
		closed("t4", day0.Add(3*time.Hour), -30),
	}

	s := Aggregate(trades, nil)
	assert.Equal(t, 3, s.MaxConsecutiveWins)
	assert.Equal(t, 2, s.MaxConsecutiveLosses)
}

func TestAggregateMaxDrawdown(t *testing.T) {
	trades := []domain.Trade{
		closed("t1", day0, 100),
		closed("t2", day0.Add(time.Hour), -60),
		closed("t3", day0.Add(2*time.Hour), -20),
		closed("t4", day0.Add(3*time.Hour), 50),
	}

	s := Aggregate(trades, nil)
	require.NotNil(t, s.MaxDrawdown)
	assert.InDelta(t, 80.0, *s.MaxDrawdown, 1e-9)
	require.NotNil(t, s.MaxDrawdownPct)
	assert.InDelta(t, 0.8, *s.MaxDrawdownPct, 1e-9)
}

func TestAggregateRStats(t *testing.T) {
	r := func(v float64) *float64 { return &v }
	t1 := closed("t1", day0, 100)
	t1.RMultiple = r(2.0)
	t2 := closed("t2", day0.Add(time.Hour), -150)
	t2.RMultiple = r(-1.5)
	t3 := closed("t3", day0.Add(2*time.Hour), 50)
	t3.RMultiple = r(0.4)
	t4 := closed("t4", day0.Add(3*time.Hour), 10) // no resolved stop

	s := Aggregate([]domain.Trade{t1, t2, t3, t4}, nil)
	require.NotNil(t, s.AvgR)
	assert.InDelta(t, 0.3, *s.AvgR, 1e-9)
	assert.InDelta(t, 2.0, *s.MaxR, 1e-9)
	assert.InDelta(t, -1.5, *s.MinR, 1e-9)
	require.NotNil(t, s.PctRBelowMinusOne)
	assert.InDelta(t, 1.0/3.0, *s.PctRBelowMinusOne, 1e-9)
}

func TestAggregateROI(t *testing.T) {
	equity := 1000.0
	s := Aggregate([]domain.Trade{closed("t1", day0, 100)}, &equity)
	require.NotNil(t, s.ROIPct)
	assert.InDelta(t, 0.1, *s.ROIPct, 1e-9)
	require.NotNil(t, s.NetReturn)
	assert.InDelta(t, 100.0, *s.NetReturn, 1e-9)
}

func TestSymbolBreakdownSorted(t *testing.T) {
	eth := closed("e1", day0, 40)
	eth.Symbol = "ETHUSDT"
	trades := []domain.Trade{
		closed("b1", day0, 100),
		closed("b2", day0.Add(time.Hour), -50),
		eth,
	}

	rows := SymbolBreakdown(trades)
	require.Len(t, rows, 2)
	assert.Equal(t, "BTCUSDT", rows[0].Symbol)
	assert.Equal(t, 2, rows[0].Trades)
	assert.InDelta(t, 50.0, rows[0].TotalNetPnL, 1e-9)
	assert.Equal(t, "ETHUSDT", rows[1].Symbol)
	assert.Equal(t, 1, rows[1].Trades)
}

func TestPnLDistribution(t *testing.T) {
	trades := []domain.Trade{
		closed("t1", day0, 0),
		closed("t2", day0, 25),
		closed("t3", day0, 50),
		closed("t4", day0, 100),
	}

	d := PnLDistribution(trades, 4)
	assert.InDelta(t, 0.0, d.Min, 1e-9)
	assert.InDelta(t, 100.0, d.Max, 1e-9)
	require.Len(t, d.Bins, 4)
	assert.Equal(t, 1, d.Bins[0].Count) // 0
	assert.Equal(t, 1, d.Bins[1].Count) // 25 at the bin boundary rolls up
	assert.Equal(t, 1, d.Bins[2].Count) // 50
	assert.Equal(t, 1, d.Bins[3].Count) // 100 clamps into the last bin
}

func TestPnLDistributionDegenerate(t *testing.T) {
	d := PnLDistribution([]domain.Trade{closed("t1", day0, 5), closed("t2", day0, 5)}, 10)
	require.Len(t, d.Bins, 1)
	assert.Equal(t, 2, d.Bins[0].Count)
}

func TestComputeTimePerformance(t *testing.T) {
	trades := []domain.Trade{
		closed("t1", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 10), // Friday
		closed("t2", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), -5),
		closed("t3", time.Date(2024, 3, 2, 14, 0, 0, 0, time.UTC), 20), // Saturday
	}

	perf := ComputeTimePerformance(trades)
	require.Len(t, perf.Hourly, 2)
	assert.Equal(t, 10, perf.Hourly[0].Bucket)
	assert.Equal(t, 2, perf.Hourly[0].Count)
	assert.InDelta(t, 5.0, perf.Hourly[0].TotalPnL, 1e-9)
	require.NotNil(t, perf.Hourly[0].WinRate)
	assert.InDelta(t, 0.5, *perf.Hourly[0].WinRate, 1e-9)

	require.Len(t, perf.Weekday, 2)
	assert.Equal(t, int(time.Friday), perf.Weekday[0].Bucket)
	assert.Equal(t, int(time.Saturday), perf.Weekday[1].Bucket)
}

func TestAnnotateEquityAtEntry(t *testing.T) {
	early := closed("early", day0, 10)
	early.EntryTime = day0.Add(-48 * time.Hour)
	late := closed("late", day0.Add(4*time.Hour), 10)

	snaps := []domain.EquitySnapshot{
		{Timestamp: day0.Add(-2 * time.Hour), TotalValue: 5000},
		{Timestamp: day0.Add(2 * time.Hour), TotalValue: 5200},
	}

	fallback := 4000.0
	trades := []*domain.Trade{&late, &early}
	AnnotateEquityAtEntry(trades, snaps, &fallback)

	require.NotNil(t, early.EquityAtEntry)
	assert.InDelta(t, 4000.0, *early.EquityAtEntry, 1e-9)
	require.NotNil(t, late.EquityAtEntry)
	assert.InDelta(t, 5200.0, *late.EquityAtEntry, 1e-9)
}

func TestAnnotateEquityNoSnapshotsNoFallback(t *testing.T) {
	tr := closed("t1", day0, 10)
	AnnotateEquityAtEntry([]*domain.Trade{&tr}, nil, nil)
	assert.Nil(t, tr.EquityAtEntry)
}
