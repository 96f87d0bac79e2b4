package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func baseTrade() domain.Trade {
	return domain.Trade{
		TradeID:     "t1",
		Source:      "apex",
		AccountID:   "acct-1",
		Symbol:      "BTCUSDT",
		Side:        domain.TradeSideLong,
		EntryTime:   t0,
		ExitTime:    t0.Add(time.Hour),
		EntryPrice:  100,
		ExitPrice:   103,
		EntrySize:   10,
		ExitSize:    10,
		RealizedPnL: 30,
		Fills: []domain.Fill{
			{FillID: "f1", OrderID: "o1", Side: domain.FillSideBuy, Price: 100, Size: 10, Timestamp: t0},
			{FillID: "f2", OrderID: "o2", Side: domain.FillSideSell, Price: 103, Size: 10, Timestamp: t0.Add(time.Hour)},
		},
	}
}

func entryOrder(id string, sl, tp *domain.TPSLParam) domain.OrderRecord {
	return domain.OrderRecord{
		OrderID:     id,
		Source:      "apex",
		AccountID:   "acct-1",
		Symbol:      "BTCUSDT",
		Side:        domain.FillSideBuy,
		IsOpenTPSL:  sl != nil || tp != nil,
		IsSetOpenSL: sl != nil,
		IsSetOpenTP: tp != nil,
		OpenSLParam: sl,
		OpenTPParam: tp,
		CreatedAt:   t0,
	}
}

func TestResolveStopWeightedFullCoverage(t *testing.T) {
	trade := baseTrade()
	orders := []domain.OrderRecord{
		entryOrder("o1", &domain.TPSLParam{TriggerPrice: ptr(95)}, nil),
	}

	s := ResolveStop(trade, orders)
	require.NotNil(t, s.StopPrice)
	assert.Equal(t, SourceOpenSLWeighted, s.Source)
	assert.InDelta(t, 95.0, *s.StopPrice, 1e-9)
	require.NotNil(t, s.RiskAmount)
	assert.InDelta(t, 50.0, *s.RiskAmount, 1e-9)
	require.NotNil(t, s.RMultiple)
	assert.InDelta(t, 0.6, *s.RMultiple, 1e-9)
}

func TestResolveStopBlendsAcrossEntryFills(t *testing.T) {
	trade := baseTrade()
	trade.Fills = []domain.Fill{
		{FillID: "f1", OrderID: "o1", Side: domain.FillSideBuy, Price: 100, Size: 6, Timestamp: t0},
		{FillID: "f2", OrderID: "o2", Side: domain.FillSideBuy, Price: 100, Size: 4, Timestamp: t0.Add(time.Minute)},
		{FillID: "f3", OrderID: "o3", Side: domain.FillSideSell, Price: 103, Size: 10, Timestamp: t0.Add(time.Hour)},
	}
	orders := []domain.OrderRecord{
		entryOrder("o1", &domain.TPSLParam{Price: ptr(95)}, nil),
		entryOrder("o2", &domain.TPSLParam{Price: ptr(90)}, nil),
	}

	s := ResolveStop(trade, orders)
	require.NotNil(t, s.StopPrice)
	assert.Equal(t, SourceOpenSLWeighted, s.Source)
	// (6*95 + 4*90) / 10
	assert.InDelta(t, 93.0, *s.StopPrice, 1e-9)
	assert.InDelta(t, 70.0, *s.RiskAmount, 1e-9)
}

func TestResolveStopPartialCoverage(t *testing.T) {
	trade := baseTrade()
	trade.Fills = []domain.Fill{
		{FillID: "f1", OrderID: "o1", Side: domain.FillSideBuy, Price: 100, Size: 6, Timestamp: t0},
		{FillID: "f2", OrderID: "o2", Side: domain.FillSideBuy, Price: 100, Size: 4, Timestamp: t0.Add(time.Minute)},
		{FillID: "f3", OrderID: "o3", Side: domain.FillSideSell, Price: 103, Size: 10, Timestamp: t0.Add(time.Hour)},
	}
	orders := []domain.OrderRecord{
		entryOrder("o1", &domain.TPSLParam{Price: ptr(95)}, nil),
		entryOrder("o2", nil, nil), // no stop on this entry
	}

	s := ResolveStop(trade, orders)
	require.NotNil(t, s.StopPrice)
	assert.Equal(t, SourceOpenSLWeightedPartial, s.Source)
	assert.InDelta(t, 95.0, *s.StopPrice, 1e-9)
	// Risk basis is the covered size only.
	assert.InDelta(t, 30.0, *s.RiskAmount, 1e-9)
}

func TestResolveStopTPSLFallback(t *testing.T) {
	trade := baseTrade()
	orders := []domain.OrderRecord{
		entryOrder("o1", nil, nil),
		{
			OrderID:        "sl-late",
			Source:         "apex",
			AccountID:      "acct-1",
			Symbol:         "BTCUSDT",
			Side:           domain.FillSideSell,
			ReduceOnly:     true,
			IsPositionTPSL: true,
			TriggerPrice:   ptr(94),
			OrderType:      "STOP_MARKET",
			CreatedAt:      t0.Add(10 * time.Minute),
		},
		{
			OrderID:        "sl-early",
			Source:         "apex",
			AccountID:      "acct-1",
			Symbol:         "BTCUSDT",
			Side:           domain.FillSideSell,
			ReduceOnly:     true,
			IsPositionTPSL: true,
			TriggerPrice:   ptr(96),
			OrderType:      "STOP_MARKET",
			CreatedAt:      t0.Add(5 * time.Minute),
		},
	}

	s := ResolveStop(trade, orders)
	require.NotNil(t, s.StopPrice)
	assert.Equal(t, SourceTPSL, s.Source)
	assert.InDelta(t, 96.0, *s.StopPrice, 1e-9) // earliest created wins
	assert.InDelta(t, 40.0, *s.RiskAmount, 1e-9)
	assert.InDelta(t, 0.75, *s.RMultiple, 1e-9)
}

func TestResolveStopTPSLOutsideWindowIgnored(t *testing.T) {
	trade := baseTrade()
	orders := []domain.OrderRecord{
		{
			OrderID:        "sl-after",
			Source:         "apex",
			AccountID:      "acct-1",
			Symbol:         "BTCUSDT",
			Side:           domain.FillSideSell,
			ReduceOnly:     true,
			IsPositionTPSL: true,
			TriggerPrice:   ptr(96),
			OrderType:      "STOP_MARKET",
			CreatedAt:      trade.ExitTime.Add(time.Minute),
		},
	}

	s := ResolveStop(trade, orders)
	assert.Nil(t, s.StopPrice)
	assert.Empty(t, s.Source)
}

func TestResolveStopScopedToAccountAndSymbol(t *testing.T) {
	trade := baseTrade()
	other := entryOrder("o1", &domain.TPSLParam{Price: ptr(95)}, nil)
	other.AccountID = "acct-2"

	s := ResolveStop(trade, []domain.OrderRecord{other})
	assert.Nil(t, s.StopPrice)
	assert.Nil(t, s.RiskAmount)
	assert.Nil(t, s.RMultiple)
}

func TestResolveTargetWeighted(t *testing.T) {
	trade := baseTrade()
	orders := []domain.OrderRecord{
		entryOrder("o1", nil, &domain.TPSLParam{Price: ptr(110)}),
	}

	tg := ResolveTarget(trade, orders)
	require.NotNil(t, tg.TargetPrice)
	assert.Equal(t, SourceOpenTPWeighted, tg.Source)
	assert.InDelta(t, 110.0, *tg.TargetPrice, 1e-9)
	require.NotNil(t, tg.TargetPnL)
	assert.InDelta(t, 100.0, *tg.TargetPnL, 1e-9)
}

func TestResolveTargetPnLNilWhenNotFavorable(t *testing.T) {
	trade := baseTrade()
	// A "target" below the long entry has no favorable delta.
	orders := []domain.OrderRecord{
		entryOrder("o1", nil, &domain.TPSLParam{Price: ptr(99)}),
	}

	tg := ResolveTarget(trade, orders)
	require.NotNil(t, tg.TargetPrice)
	assert.Nil(t, tg.TargetPnL)
}

func TestResolveTargetShortSide(t *testing.T) {
	trade := baseTrade()
	trade.Side = domain.TradeSideShort
	trade.Fills = []domain.Fill{
		{FillID: "f1", OrderID: "o1", Side: domain.FillSideSell, Price: 100, Size: 10, Timestamp: t0},
		{FillID: "f2", OrderID: "o2", Side: domain.FillSideBuy, Price: 97, Size: 10, Timestamp: t0.Add(time.Hour)},
	}
	order := entryOrder("o1", nil, &domain.TPSLParam{Price: ptr(90)})
	order.Side = domain.FillSideSell

	tg := ResolveTarget(trade, []domain.OrderRecord{order})
	require.NotNil(t, tg.TargetPnL)
	assert.InDelta(t, 100.0, *tg.TargetPnL, 1e-9)
}

func TestApplyWritesBothSummaries(t *testing.T) {
	trade := baseTrade()
	orders := []domain.OrderRecord{
		entryOrder("o1", &domain.TPSLParam{Price: ptr(95)}, &domain.TPSLParam{Price: ptr(110)}),
	}

	Apply(&trade, orders)
	require.NotNil(t, trade.StopPrice)
	assert.InDelta(t, 95.0, *trade.StopPrice, 1e-9)
	assert.Equal(t, SourceOpenSLWeighted, trade.RiskSource)
	require.NotNil(t, trade.RMultiple)
	assert.InDelta(t, 0.6, *trade.RMultiple, 1e-9)
	require.NotNil(t, trade.TargetPrice)
	assert.InDelta(t, 110.0, *trade.TargetPrice, 1e-9)
	assert.Equal(t, SourceOpenTPWeighted, trade.TargetSource)
}

func TestResolveStopNoOrders(t *testing.T) {
	s := ResolveStop(baseTrade(), nil)
	assert.Equal(t, StopSummary{}, s)
}
