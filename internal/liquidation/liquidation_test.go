package liquidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

var t0 = time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)

func liqFill(id string, raw map[string]any) domain.Fill {
	if raw == nil {
		raw = map[string]any{}
	}
	if id != "" {
		raw["fillId"] = id
	}
	return domain.Fill{
		FillID:    id,
		Symbol:    "ETHUSDT",
		Side:      domain.FillSideSell,
		Price:     3200,
		Size:      2,
		Fee:       1.6,
		Timestamp: t0,
		Source:    "apex",
		AccountID: "acct-1",
		Raw:       raw,
	}
}

func closedTrade(id string, exit time.Time, exitSize float64) *domain.Trade {
	return &domain.Trade{
		TradeID:   id,
		Source:    "apex",
		AccountID: "acct-1",
		Symbol:    "ETHUSDT",
		Side:      domain.TradeSideShort,
		EntryTime: exit.Add(-2 * time.Hour),
		ExitTime:  exit,
		ExitSize:  exitSize,
	}
}

func TestDeriveDetectsMarkers(t *testing.T) {
	fills := []domain.Fill{
		liqFill("f1", map[string]any{"exitType": "Liquidate"}),
		liqFill("f2", map[string]any{"isLiquidate": true, "liquidateFee": "4.2"}),
		liqFill("f3", map[string]any{"liquidateFee": 1.5}),
		liqFill("f4", nil), // ordinary fill, no marker
	}

	events := Derive(fills, nil)

	require.Len(t, events, 3)
	assert.Equal(t, "fillId:f1", events[0].LiquidationID)
	assert.Equal(t, domain.TradeSideShort, events[0].Side)
	assert.Equal(t, "Liquidate", events[0].ExitType)
	require.NotNil(t, events[1].LiquidateFee)
	assert.InDelta(t, 4.2, *events[1].LiquidateFee, 1e-9)
}

func TestDeriveFromOrdersAndDedupe(t *testing.T) {
	price := 3200.0
	order := domain.OrderRecord{
		OrderID:   "o1",
		Source:    "apex",
		AccountID: "acct-1",
		Symbol:    "ETHUSDT",
		Side:      domain.FillSideSell,
		Size:      2,
		Price:     &price,
		CreatedAt: t0,
		Raw:       map[string]any{"orderId": "o1", "type": "LIQUIDATION", "totalPnl": "-120.5"},
	}
	// The fill references the same order id, so only one event survives.
	fill := liqFill("", map[string]any{"orderId": "o1", "exitType": "Liquidate"})

	events := Derive([]domain.Fill{fill}, []domain.OrderRecord{order})

	require.Len(t, events, 1)
	assert.Equal(t, "orderId:o1", events[0].LiquidationID)
}

func TestDeriveFallbackIDIsStable(t *testing.T) {
	fill := liqFill("", map[string]any{"exitType": "Liquidate"})

	first := Derive([]domain.Fill{fill}, nil)
	second := Derive([]domain.Fill{fill}, nil)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].LiquidationID, second[0].LiquidationID)
}

func TestMatchPrefersExactSize(t *testing.T) {
	tr := closedTrade("t1", t0.Add(10*time.Minute), 2)
	events := []domain.LiquidationEvent{
		{LiquidationID: "near-wrong-size", Symbol: "ETHUSDT", Side: domain.TradeSideShort, Size: 5, CreatedAt: t0.Add(9 * time.Minute)},
		{LiquidationID: "far-exact-size", Symbol: "ETHUSDT", Side: domain.TradeSideShort, Size: 2, CreatedAt: t0},
	}

	matches := Match([]*domain.Trade{tr}, events)

	require.Contains(t, matches, "t1")
	assert.Equal(t, "far-exact-size", matches["t1"].LiquidationID,
		"size agreement outranks time proximity")
	require.NotNil(t, tr.LiquidationID)
	assert.Equal(t, "far-exact-size", *tr.LiquidationID)
}

func TestMatchRelaxesToSideThenAny(t *testing.T) {
	tr := closedTrade("t1", t0.Add(30*time.Minute), 9) // size differs from the event
	events := Derive([]domain.Fill{liqFill("f1", map[string]any{"exitType": "Liquidate"})}, nil)

	matches := Match([]*domain.Trade{tr}, events)

	require.Contains(t, matches, "t1")

	// Opposite side still pairs on the final relaxation pass.
	long := closedTrade("t2", t0.Add(30*time.Minute), 9)
	long.Side = domain.TradeSideLong
	matches = Match([]*domain.Trade{long}, events)
	require.Contains(t, matches, "t2")
}

func TestMatchRespectsWindow(t *testing.T) {
	tr := closedTrade("t1", t0.Add(7*time.Hour), 2)
	events := Derive([]domain.Fill{liqFill("f1", map[string]any{"exitType": "Liquidate"})}, nil)

	matches := Match([]*domain.Trade{tr}, events)

	assert.Empty(t, matches)
	assert.Nil(t, tr.LiquidationID)
}

func TestMatchConsumesEventsOnce(t *testing.T) {
	first := closedTrade("t1", t0.Add(5*time.Minute), 2)
	second := closedTrade("t2", t0.Add(10*time.Minute), 2)
	events := Derive([]domain.Fill{liqFill("f1", map[string]any{"exitType": "Liquidate"})}, nil)

	matches := Match([]*domain.Trade{first, second}, events)

	require.Len(t, matches, 1)
	assert.Contains(t, matches, "t1")
	assert.Nil(t, second.LiquidationID)
}

func TestMatchClearsStaleAnnotations(t *testing.T) {
	stale := "fillId:old"
	tr := closedTrade("t1", t0.Add(5*time.Minute), 2)
	tr.LiquidationID = &stale

	matches := Match([]*domain.Trade{tr}, nil)

	assert.Empty(t, matches)
	assert.Nil(t, tr.LiquidationID)
}
