package excursion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(start time.Time, o, h, l, c float64) domain.PriceBar {
	return domain.PriceBar{
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Open:      o, High: h, Low: l, Close: c,
	}
}

func longTrade(entry, exit time.Time, entryPrice, exitPrice, size float64) domain.Trade {
	return domain.Trade{
		TradeID:     "t1",
		Symbol:      "BTCUSDT",
		Side:        domain.TradeSideLong,
		EntryTime:   entry,
		ExitTime:    exit,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		EntrySize:   size,
		ExitSize:    size,
		RealizedPnL: (exitPrice - entryPrice) * size,
		Fills: []domain.Fill{
			{Symbol: "BTCUSDT", Side: domain.FillSideBuy, Price: entryPrice, Size: size, Timestamp: entry},
			{Symbol: "BTCUSDT", Side: domain.FillSideSell, Price: exitPrice, Size: size, Timestamp: exit},
		},
	}
}

func TestComputeSingleBarUsesFillPricesOnly(t *testing.T) {
	// Both boundaries inside one bar: the bar's 90 low and 120 high must not
	// reach the excursion figures.
	trade := longTrade(base.Add(30*time.Second), base.Add(45*time.Second), 105, 108, 10)
	bars := []domain.PriceBar{bar(base, 100, 120, 90, 110)}

	m, err := Compute(trade, bars)
	require.NoError(t, err)

	// Entry sample lands while the position is still flat (sample precedes
	// the fill at the same instant), so the only PnL point is the exit.
	assert.InDelta(t, 30.0, m.MFE, 1e-9)
	assert.InDelta(t, 30.0, m.MAE, 1e-9)
	assert.InDelta(t, 0.0, m.ETD, 1e-9)
}

func TestComputeInteriorBarsUseHighAndLow(t *testing.T) {
	entry := base.Add(30 * time.Second)
	exit := base.Add(3*time.Minute + 30*time.Second)
	trade := longTrade(entry, exit, 100, 104, 1)
	bars := []domain.PriceBar{
		bar(base, 100, 101, 99, 100.5),                 // entry bar
		bar(base.Add(time.Minute), 100.5, 110, 95, 102),  // interior
		bar(base.Add(2*time.Minute), 102, 103, 101, 102), // interior
		bar(base.Add(3*time.Minute), 102, 106, 100, 104), // exit bar
	}

	m, err := Compute(trade, bars)
	require.NoError(t, err)

	// Worst point is the interior low 95, best the interior high 110.
	assert.InDelta(t, -5.0, m.MAE, 1e-9)
	assert.InDelta(t, 10.0, m.MFE, 1e-9)
	// Gross realized is 4, so the give-back is 6.
	assert.InDelta(t, 6.0, m.ETD, 1e-9)
}

func TestComputeExitBarIgnoresPostExitExtremes(t *testing.T) {
	entry := base.Add(30 * time.Second)
	exit := base.Add(time.Minute + 10*time.Second)
	trade := longTrade(entry, exit, 100, 101, 1)
	bars := []domain.PriceBar{
		bar(base, 100, 100.5, 99.5, 100.2),
		// Exit bar spikes to 150 after the exit; only the exit fill price
		// may be sampled from this bar.
		bar(base.Add(time.Minute), 100.2, 150, 50, 149),
	}

	m, err := Compute(trade, bars)
	require.NoError(t, err)
	assert.Less(t, m.MFE, 2.0)
	assert.Greater(t, m.MAE, -2.0)
}

func TestComputeEntryBarUsesCloseNotExtremes(t *testing.T) {
	entry := base.Add(30 * time.Second)
	exit := base.Add(2*time.Minute + 30*time.Second)
	trade := longTrade(entry, exit, 100, 100, 1)
	bars := []domain.PriceBar{
		// Pre-entry crash to 80 inside the entry bar must not count; the
		// bar close (99) does.
		bar(base, 100, 100, 80, 99),
		bar(base.Add(time.Minute), 99, 100, 98, 99.5),
		bar(base.Add(2*time.Minute), 99.5, 101, 99, 100),
	}

	m, err := Compute(trade, bars)
	require.NoError(t, err)
	assert.InDelta(t, -2.0, m.MAE, 1e-9) // interior low 98
	assert.GreaterOrEqual(t, m.MAE, -2.0, "entry bar low of 80 must not leak in")
}

func TestComputeCoverageError(t *testing.T) {
	trade := longTrade(base, base.Add(10*time.Minute), 100, 101, 1)
	bars := []domain.PriceBar{bar(base, 100, 101, 99, 100)}

	_, err := Compute(trade, bars)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCoverage)
}

func TestComputeNoBarsCoverageError(t *testing.T) {
	trade := longTrade(base, base.Add(time.Minute), 100, 101, 1)
	_, err := Compute(trade, nil)
	assert.ErrorIs(t, err, domain.ErrCoverage)
}

func TestComputeShortTradeSign(t *testing.T) {
	entry := base.Add(30 * time.Second)
	exit := base.Add(2*time.Minute + 30*time.Second)
	trade := domain.Trade{
		TradeID:     "t2",
		Symbol:      "ETHUSDT",
		Side:        domain.TradeSideShort,
		EntryTime:   entry,
		ExitTime:    exit,
		EntryPrice:  100,
		ExitPrice:   95,
		RealizedPnL: 5,
		Fills: []domain.Fill{
			{Side: domain.FillSideSell, Price: 100, Size: 1, Timestamp: entry},
			{Side: domain.FillSideBuy, Price: 95, Size: 1, Timestamp: exit},
		},
	}
	bars := []domain.PriceBar{
		bar(base, 100, 100, 99, 100),
		bar(base.Add(time.Minute), 100, 104, 93, 95), // interior: high hurts a short
		bar(base.Add(2*time.Minute), 95, 96, 94, 95),
	}

	m, err := Compute(trade, bars)
	require.NoError(t, err)
	assert.InDelta(t, -4.0, m.MAE, 1e-9) // 104 against a short from 100
	assert.InDelta(t, 7.0, m.MFE, 1e-9)  // 93 in favor
	assert.InDelta(t, 2.0, m.ETD, 1e-9)
}

func TestApplySetsTradeFields(t *testing.T) {
	entry := base.Add(30 * time.Second)
	exit := base.Add(45 * time.Second)
	trade := longTrade(entry, exit, 105, 108, 10)
	bars := []domain.PriceBar{bar(base, 100, 120, 90, 110)}

	require.NoError(t, Apply(&trade, bars))
	require.NotNil(t, trade.MAE)
	require.NotNil(t, trade.MFE)
	require.NotNil(t, trade.ETD)
	assert.InDelta(t, *trade.MFE-trade.RealizedPnL, *trade.ETD, 1e-9)
}

func TestSeriesPointsPerCoveringBar(t *testing.T) {
	entry := base.Add(30 * time.Second)
	exit := base.Add(2*time.Minute + 30*time.Second)
	trade := longTrade(entry, exit, 100, 102, 2)
	bars := []domain.PriceBar{
		bar(base.Add(-time.Minute), 99, 100, 98, 100), // before entry, skipped
		bar(base, 100, 101, 99, 100.5),
		bar(base.Add(time.Minute), 100.5, 102, 100, 101),
		bar(base.Add(2*time.Minute), 101, 103, 100.5, 102),
		bar(base.Add(5*time.Minute), 102, 103, 101, 102), // after exit, skipped
	}

	points := Series(trade, bars)
	require.Len(t, points, 3)

	first := points[0]
	require.NotNil(t, first.EntryReturn)
	assert.InDelta(t, 100.5/100.0-1.0, *first.EntryReturn, 1e-9)
	require.NotNil(t, first.PerUnitUnrealized)
	assert.InDelta(t, 0.5, *first.PerUnitUnrealized, 1e-9)

	// Exit fill lands at the final bar's boundary; the position is flat by
	// then so the mark-to-market fields are absent.
	last := points[2]
	assert.Nil(t, last.EntryReturn)
}

func TestDownsampleKeepsLastPoint(t *testing.T) {
	var points []SeriesPoint
	for i := 0; i < 10; i++ {
		points = append(points, SeriesPoint{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	sampled := Downsample(points, 4)
	require.NotEmpty(t, sampled)
	assert.LessOrEqual(t, len(sampled), 6)
	assert.Equal(t, points[9].Timestamp, sampled[len(sampled)-1].Timestamp)

	assert.Len(t, Downsample(points, 0), 10)
	assert.Len(t, Downsample(points, 20), 10)
}
