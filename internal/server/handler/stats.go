package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/stats"
)

// StatsService defines the aggregate queries the stats handler requires from
// the service layer.
type StatsService interface {
	Summary(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts, initialEquity *float64) (stats.Summary, error)
	SymbolBreakdown(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]stats.SymbolRow, error)
	Distribution(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts, bins int) (stats.Distribution, error)
	TimePerformance(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) (stats.TimePerformance, error)
}

// StatsHandler serves journal statistics endpoints.
type StatsHandler struct {
	stats  StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(statsSvc StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: statsSvc, logger: logger}
}

// statsListOpts widens the default page so aggregates cover the whole
// journal unless the caller narrows the window explicitly.
func statsListOpts(r *http.Request) domain.ListOpts {
	opts := parseListOpts(r)
	if r.URL.Query().Get("limit") == "" {
		opts.Limit = 0
	}
	return opts
}

// GetSummary returns the aggregate journal summary.
// GET /api/stats/summary?source=apex&initial_equity=10000
func (h *StatsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	opts := statsListOpts(r)
	scope := parseScope(r)

	var initialEquity *float64
	if v := r.URL.Query().Get("initial_equity"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			initialEquity = &f
		}
	}

	summary, err := h.stats.Summary(r.Context(), scope, opts, initialEquity)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: summary failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetSymbolBreakdown returns per-symbol aggregates.
// GET /api/stats/symbols?source=apex
func (h *StatsHandler) GetSymbolBreakdown(w http.ResponseWriter, r *http.Request) {
	rows, err := h.stats.SymbolBreakdown(r.Context(), parseScope(r), statsListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: symbol breakdown failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute symbol breakdown")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"symbols": rows})
}

// GetDistribution returns the net PnL histogram.
// GET /api/stats/distribution?bins=20
func (h *StatsHandler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	bins := 20
	if v := r.URL.Query().Get("bins"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			bins = n
		}
	}

	dist, err := h.stats.Distribution(r.Context(), parseScope(r), statsListOpts(r), bins)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: distribution failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute distribution")
		return
	}

	writeJSON(w, http.StatusOK, dist)
}

// GetTimePerformance returns performance bucketed by exit hour and weekday.
// GET /api/stats/time
func (h *StatsHandler) GetTimePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.stats.TimePerformance(r.Context(), parseScope(r), statsListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: time performance failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute time performance")
		return
	}

	writeJSON(w, http.StatusOK, perf)
}
