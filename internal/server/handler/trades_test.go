package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/excursion"
)

// fakeTradeService serves canned trades and records the arguments it saw.
type fakeTradeService struct {
	trades       []domain.Trade
	liquidations []domain.LiquidationEvent
	lastScope    domain.AccountScope
	lastOpts     domain.ListOpts
}

func (f *fakeTradeService) ListTrades(_ context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.Trade, error) {
	f.lastScope = scope
	f.lastOpts = opts
	return f.trades, nil
}

func (f *fakeTradeService) GetTrade(_ context.Context, tradeID string) (domain.Trade, error) {
	for _, tr := range f.trades {
		if tr.TradeID == tradeID {
			return tr, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (f *fakeTradeService) TradeSeries(_ context.Context, tradeID string, maxPoints int) ([]excursion.SeriesPoint, error) {
	if _, err := f.GetTrade(context.Background(), tradeID); err != nil {
		return nil, err
	}
	points := make([]excursion.SeriesPoint, maxPoints)
	return points, nil
}

func (f *fakeTradeService) TradeLiquidation(_ context.Context, trade domain.Trade) (*domain.LiquidationEvent, error) {
	if trade.LiquidationID == nil {
		return nil, nil
	}
	for i := range f.liquidations {
		if f.liquidations[i].LiquidationID == *trade.LiquidationID {
			return &f.liquidations[i], nil
		}
	}
	return nil, nil
}

func (f *fakeTradeService) ListLiquidations(_ context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.LiquidationEvent, error) {
	f.lastScope = scope
	f.lastOpts = opts
	return f.liquidations, nil
}

func newTradeMux(svc *fakeTradeService) *http.ServeMux {
	h := NewTradeHandler(svc, 500, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/trades", h.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", h.GetTrade)
	mux.HandleFunc("GET /api/trades/{id}/series", h.GetTradeSeries)
	mux.HandleFunc("GET /api/liquidations", h.ListLiquidations)
	return mux
}

func sampleTrades() []domain.Trade {
	entry := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return []domain.Trade{
		{
			TradeID: "t1", Source: "apex", Symbol: "BTC-USDT",
			Side: domain.TradeSideLong, EntryTime: entry, ExitTime: entry.Add(time.Hour),
			EntryPrice: 50000, ExitPrice: 51000, EntrySize: 1, ExitSize: 1,
			RealizedPnL: 1000,
		},
	}
}

func TestListTradesPassesScopeAndWindow(t *testing.T) {
	svc := &fakeTradeService{trades: sampleTrades()}
	mux := newTradeMux(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/trades?source=apex&limit=10&since=2025-05-01T00:00:00Z", nil)
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "apex", svc.lastScope.Source)
	assert.Equal(t, 10, svc.lastOpts.Limit)
	require.NotNil(t, svc.lastOpts.Since)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), svc.lastOpts.Since.UTC())

	var resp struct {
		Trades []domain.Trade `json:"trades"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "t1", resp.Trades[0].TradeID)
}

func TestGetTradeNotFound(t *testing.T) {
	mux := newTradeMux(&fakeTradeService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "trade not found")
}

func TestGetTradeByID(t *testing.T) {
	mux := newTradeMux(&fakeTradeService{trades: sampleTrades()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/t1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var trade domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trade))
	assert.Equal(t, "BTC-USDT", trade.Symbol)
}

func TestGetTradeIncludesLiquidation(t *testing.T) {
	trades := sampleTrades()
	liqID := "fillId:f9"
	trades[0].LiquidationID = &liqID
	fee := 12.5
	svc := &fakeTradeService{
		trades: trades,
		liquidations: []domain.LiquidationEvent{{
			LiquidationID: liqID, Source: "apex", Symbol: "BTC-USDT",
			Side: domain.TradeSideLong, Size: 1, LiquidateFee: &fee,
			CreatedAt: trades[0].ExitTime, ExitType: "Liquidate",
		}},
	}
	mux := newTradeMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/t1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Symbol      string
		Liquidation *domain.LiquidationEvent `json:"liquidation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BTC-USDT", resp.Symbol)
	require.NotNil(t, resp.Liquidation)
	assert.Equal(t, "Liquidate", resp.Liquidation.ExitType)
	require.NotNil(t, resp.Liquidation.LiquidateFee)
	assert.InDelta(t, 12.5, *resp.Liquidation.LiquidateFee, 1e-9)
}

func TestListLiquidations(t *testing.T) {
	svc := &fakeTradeService{
		liquidations: []domain.LiquidationEvent{
			{LiquidationID: "a", Symbol: "BTC-USDT"},
			{LiquidationID: "b", Symbol: "ETH-USDT"},
		},
	}
	mux := newTradeMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/liquidations?source=apex", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "apex", svc.lastScope.Source)
	var resp struct {
		Liquidations []domain.LiquidationEvent `json:"liquidations"`
		Count        int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestGetTradeSeriesCapsPoints(t *testing.T) {
	mux := newTradeMux(&fakeTradeService{trades: sampleTrades()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/t1/series?points=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		TradeID string                  `json:"trade_id"`
		Points  []excursion.SeriesPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TradeID)
	assert.Len(t, resp.Points, 20)
}
