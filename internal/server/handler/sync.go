package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/service"
)

// Processor reruns the journal rebuild for one scope on demand.
type Processor interface {
	Process(ctx context.Context, scope domain.AccountScope) (service.ProcessResult, error)
}

// SyncHandler serves the manual reprocess endpoint.
type SyncHandler struct {
	processor Processor
	scopes    []domain.AccountScope
	logger    *slog.Logger
}

// NewSyncHandler creates a SyncHandler. scopes are the configured account
// scopes, used when the request names no source.
func NewSyncHandler(processor Processor, scopes []domain.AccountScope, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		processor: processor,
		scopes:    scopes,
		logger:    logger,
	}
}

// TriggerProcess rebuilds the journal from stored raw records, for one scope
// or all configured scopes. Reconstruction is deterministic, so the endpoint
// is safe to call repeatedly.
// POST /api/sync/process?source=apex
func (h *SyncHandler) TriggerProcess(w http.ResponseWriter, r *http.Request) {
	requested := parseScope(r)

	scopes := h.scopes
	if requested.Source != "" {
		scopes = []domain.AccountScope{requested}
	}
	if len(scopes) == 0 {
		writeError(w, http.StatusBadRequest, "no scopes configured; pass ?source=")
		return
	}

	results := make([]map[string]any, 0, len(scopes))
	for _, scope := range scopes {
		result, err := h.processor.Process(r.Context(), scope)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: manual process failed",
				slog.String("source", scope.Source),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "journal rebuild failed for "+scope.Source)
			return
		}
		results = append(results, map[string]any{
			"source":          scope.Source,
			"account_id":      scope.AccountID,
			"trades":          result.Trades,
			"fills":           result.Fills,
			"funding_events":  result.FundingEvents,
			"unmatched":       result.Unmatched,
			"coverage_errors": result.CoverageErrors,
			"liquidations":    result.Liquidations,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"processed": results})
}
