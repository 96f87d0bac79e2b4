package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/excursion"
)

// TradeService defines the methods the trade handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type TradeService interface {
	ListTrades(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (domain.Trade, error)
	TradeSeries(ctx context.Context, tradeID string, maxPoints int) ([]excursion.SeriesPoint, error)
	TradeLiquidation(ctx context.Context, trade domain.Trade) (*domain.LiquidationEvent, error)
	ListLiquidations(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.LiquidationEvent, error)
}

// TradeHandler serves trade-related HTTP endpoints.
type TradeHandler struct {
	trades          TradeService
	seriesMaxPoints int
	logger          *slog.Logger
}

// NewTradeHandler creates a TradeHandler. seriesMaxPoints caps the per-trade
// series resolution.
func NewTradeHandler(trades TradeService, seriesMaxPoints int, logger *slog.Logger) *TradeHandler {
	if seriesMaxPoints <= 0 {
		seriesMaxPoints = 500
	}
	return &TradeHandler{
		trades:          trades,
		seriesMaxPoints: seriesMaxPoints,
		logger:          logger,
	}
}

// listTradesResponse wraps the list endpoint output with paging metadata.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListTrades returns reconstructed trades, newest exit first.
// GET /api/trades?source=apex&limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	scope := parseScope(r)

	trades, err := h.trades.ListTrades(r.Context(), scope, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, listTradesResponse{
		Trades: trades,
		Count:  len(trades),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// tradeDetailResponse is one trade plus the liquidation event that closed it,
// when one was matched.
type tradeDetailResponse struct {
	domain.Trade
	Liquidation *domain.LiquidationEvent `json:"liquidation,omitempty"`
}

// GetTrade returns a single trade by its ID, fills and the matched
// liquidation event included.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	trade, err := h.trades.GetTrade(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}

	liq, err := h.trades.TradeLiquidation(r.Context(), trade)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: trade liquidation lookup failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, tradeDetailResponse{Trade: trade, Liquidation: liq})
}

// ListLiquidations returns liquidation events, newest first.
// GET /api/liquidations?source=apex&limit=50
func (h *TradeHandler) ListLiquidations(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	scope := parseScope(r)

	events, err := h.trades.ListLiquidations(r.Context(), scope, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list liquidations failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list liquidations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"liquidations": events,
		"count":        len(events),
	})
}

// GetTradeSeries returns the per-bar mark-to-market series for one trade,
// downsampled for charting.
// GET /api/trades/{id}/series?points=200
func (h *TradeHandler) GetTradeSeries(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	points := h.seriesMaxPoints
	if v := r.URL.Query().Get("points"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < points {
			points = n
		}
	}

	series, err := h.trades.TradeSeries(r.Context(), id, points)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "trade not found")
		case errors.Is(err, domain.ErrCoverage), errors.Is(err, domain.ErrNoSamples):
			writeError(w, http.StatusUnprocessableEntity, "insufficient price coverage for trade window")
		default:
			h.logger.ErrorContext(r.Context(), "handler: trade series failed",
				slog.String("trade_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to compute trade series")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trade_id": id,
		"points":   series,
	})
}
