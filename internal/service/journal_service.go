package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/excursion"
	"github.com/perptools/journal/internal/funding"
	"github.com/perptools/journal/internal/ledger"
	"github.com/perptools/journal/internal/liquidation"
	"github.com/perptools/journal/internal/risk"
	"github.com/perptools/journal/internal/stats"
)

// eventsStream is the durable stream journal events are appended to, read by
// the ws hub and the notifier.
const eventsStream = "journal:events"

// ProcessResult summarises one reconstruction-and-enrichment pass.
type ProcessResult struct {
	Trades         int
	Fills          int
	FundingEvents  int
	Unmatched      int
	CoverageErrors int
	Liquidations   int
}

// JournalService rebuilds the trade journal for an account scope: it
// reconstructs trades from stored fills, attributes funding, resolves stops
// and targets, computes excursions, annotates entry equity, and persists the
// result.
type JournalService struct {
	fills        domain.FillStore
	orders       domain.OrderStore
	funding      domain.FundingStore
	trades       domain.TradeStore
	equity       domain.EquityStore
	liquidations domain.LiquidationStore
	prices       *PriceService
	audit        domain.AuditStore
	bus          domain.SignalBus
	workers      int
	logger       *slog.Logger
}

// NewJournalService creates a JournalService. workers bounds the number of
// concurrent excursion computations.
func NewJournalService(
	fills domain.FillStore,
	orders domain.OrderStore,
	fundingStore domain.FundingStore,
	trades domain.TradeStore,
	equity domain.EquityStore,
	liquidationStore domain.LiquidationStore,
	prices *PriceService,
	audit domain.AuditStore,
	bus domain.SignalBus,
	workers int,
	logger *slog.Logger,
) *JournalService {
	if workers <= 0 {
		workers = 1
	}
	return &JournalService{
		fills:        fills,
		orders:       orders,
		funding:      fundingStore,
		trades:       trades,
		equity:       equity,
		liquidations: liquidationStore,
		prices:       prices,
		audit:        audit,
		bus:          bus,
		workers:      workers,
		logger:       logger,
	}
}

// Process rebuilds the journal for one scope from the stored raw records and
// atomically replaces the persisted trades. Reconstruction is deterministic,
// so reprocessing the same records is idempotent.
func (s *JournalService) Process(ctx context.Context, scope domain.AccountScope) (ProcessResult, error) {
	fills, err := s.fills.List(ctx, scope, domain.ListOpts{})
	if err != nil {
		return ProcessResult{}, fmt.Errorf("journal_service: load fills: %w", err)
	}
	orders, err := s.orders.List(ctx, scope, "")
	if err != nil {
		return ProcessResult{}, fmt.Errorf("journal_service: load orders: %w", err)
	}
	events, err := s.funding.List(ctx, scope, domain.ListOpts{})
	if err != nil {
		return ProcessResult{}, fmt.Errorf("journal_service: load funding: %w", err)
	}

	trades := ledger.Reconstruct(fills)
	refs := make([]*domain.Trade, len(trades))
	for i := range trades {
		refs[i] = &trades[i]
	}

	attribution := funding.Attribute(refs, events)
	if attribution.Unmatched > 0 {
		s.logger.WarnContext(ctx, "journal_service: unmatched funding events",
			slog.Int("count", attribution.Unmatched),
			slog.String("source", scope.Source),
		)
		s.publishEvent(ctx, map[string]any{
			"event":  "unmatched_funding",
			"count":  attribution.Unmatched,
			"source": scope.Source,
		})
	}

	for _, trade := range refs {
		risk.Apply(trade, orders)
	}

	liquidated := s.matchLiquidations(ctx, scope, refs, fills, orders)

	s.annotateEquity(ctx, scope, refs)

	coverageErrors := s.computeExcursions(ctx, refs)

	if err := s.trades.ReplaceForScope(ctx, scope, trades); err != nil {
		return ProcessResult{}, fmt.Errorf("journal_service: persist trades: %w", err)
	}

	result := ProcessResult{
		Trades:         len(trades),
		Fills:          len(fills),
		FundingEvents:  len(events),
		Unmatched:      attribution.Unmatched,
		CoverageErrors: coverageErrors,
		Liquidations:   liquidated,
	}

	if auditErr := s.audit.Log(ctx, "journal.processed", map[string]any{
		"source":          scope.Source,
		"account_id":      scope.AccountID,
		"trades":          result.Trades,
		"fills":           result.Fills,
		"funding_events":  result.FundingEvents,
		"unmatched":       result.Unmatched,
		"coverage_errors": result.CoverageErrors,
		"liquidations":    result.Liquidations,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "journal_service: audit log failed",
			slog.String("error", auditErr.Error()),
		)
	}

	s.publishEvent(ctx, map[string]any{
		"event":      "trades_updated",
		"source":     scope.Source,
		"account_id": scope.AccountID,
		"trades":     result.Trades,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})

	s.logger.InfoContext(ctx, "journal_service: processed scope",
		slog.String("source", scope.Source),
		slog.Int("trades", result.Trades),
		slog.Int("coverage_errors", result.CoverageErrors),
	)
	return result, nil
}

// matchLiquidations derives liquidation events from the raw records, stores
// them, and pairs each with a trade. Stored events are matched rather than
// only the freshly derived set, so matches survive raw-record archival.
// Failures are logged and degrade to zero matches; liquidation annotation is
// never load-bearing for reconstruction.
func (s *JournalService) matchLiquidations(
	ctx context.Context,
	scope domain.AccountScope,
	trades []*domain.Trade,
	fills []domain.Fill,
	orders []domain.OrderRecord,
) int {
	if s.liquidations == nil {
		return 0
	}

	derived := liquidation.Derive(fills, orders)
	if len(derived) > 0 {
		if err := s.liquidations.UpsertBatch(ctx, derived); err != nil {
			s.logger.WarnContext(ctx, "journal_service: store liquidations failed",
				slog.String("error", err.Error()),
			)
		}
	}

	events, err := s.liquidations.List(ctx, scope, domain.ListOpts{})
	if err != nil {
		s.logger.WarnContext(ctx, "journal_service: load liquidations failed",
			slog.String("error", err.Error()),
		)
		events = derived
	}

	matches := liquidation.Match(trades, events)
	if len(matches) > 0 {
		s.logger.InfoContext(ctx, "journal_service: liquidations matched",
			slog.Int("count", len(matches)),
			slog.String("source", scope.Source),
		)
	}
	return len(matches)
}

// computeExcursions runs the excursion calculator over the trades, one
// bar-slice per trade, bounded by the worker limit. Coverage failures are
// logged and counted per trade; they never fail the pass.
func (s *JournalService) computeExcursions(ctx context.Context, trades []*domain.Trade) int {
	if s.prices == nil {
		return 0
	}

	failures := make([]bool, len(trades))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, trade := range trades {
		g.Go(func() error {
			bars, err := s.prices.BarsForWindow(gctx, trade.Source, trade.Symbol, trade.EntryTime, trade.ExitTime)
			if err == nil {
				err = excursion.Apply(trade, bars)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failures[i] = true
				s.logger.WarnContext(gctx, "journal_service: excursion skipped",
					slog.String("trade_id", trade.TradeID),
					slog.String("symbol", trade.Symbol),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, failed := range failures {
		if failed {
			count++
		}
	}
	if count > 0 {
		s.publishEvent(ctx, map[string]any{
			"event": "coverage_error",
			"count": count,
		})
	}
	return count
}

// annotateEquity stamps each trade with the account value in force at entry,
// using the stored snapshot history.
func (s *JournalService) annotateEquity(ctx context.Context, scope domain.AccountScope, trades []*domain.Trade) {
	if s.equity == nil {
		return
	}
	snaps, err := s.equity.List(ctx, scope, domain.ListOpts{})
	if err != nil {
		s.logger.WarnContext(ctx, "journal_service: load equity snapshots failed",
			slog.String("error", err.Error()),
		)
		return
	}
	stats.AnnotateEquityAtEntry(trades, snaps, nil)
}

// RecordEquity stores a fresh account value snapshot.
func (s *JournalService) RecordEquity(ctx context.Context, snap domain.EquitySnapshot) error {
	if err := s.equity.Insert(ctx, snap); err != nil {
		return fmt.Errorf("journal_service: record equity: %w", err)
	}
	return nil
}

// publishEvent fans one journal event out over pub/sub and the durable
// stream. Delivery failures are logged, never returned: events are advisory.
func (s *JournalService) publishEvent(ctx context.Context, event map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "journal", payload); err != nil {
		s.logger.WarnContext(ctx, "journal_service: publish event failed",
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, eventsStream, payload); err != nil {
		s.logger.WarnContext(ctx, "journal_service: stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

// --------------------------------------------------------------------------
// Read APIs
// --------------------------------------------------------------------------

// ListTrades returns persisted trades for the scope, newest exit first.
func (s *JournalService) ListTrades(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.List(ctx, scope, opts)
	if err != nil {
		return nil, fmt.Errorf("journal_service: list trades: %w", err)
	}
	return trades, nil
}

// GetTrade returns one trade by id.
func (s *JournalService) GetTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("journal_service: get trade: %w", err)
	}
	return trade, nil
}

// ListLiquidations returns stored liquidation events for the scope, newest
// first.
func (s *JournalService) ListLiquidations(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.LiquidationEvent, error) {
	if s.liquidations == nil {
		return nil, nil
	}
	events, err := s.liquidations.List(ctx, scope, opts)
	if err != nil {
		return nil, fmt.Errorf("journal_service: list liquidations: %w", err)
	}
	return events, nil
}

// TradeLiquidation returns the liquidation event matched to the trade, or nil
// when the trade was not liquidated.
func (s *JournalService) TradeLiquidation(ctx context.Context, trade domain.Trade) (*domain.LiquidationEvent, error) {
	if s.liquidations == nil || trade.LiquidationID == nil {
		return nil, nil
	}
	scope := domain.AccountScope{Source: trade.Source, AccountID: trade.AccountID}
	event, err := s.liquidations.GetByID(ctx, scope, *trade.LiquidationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal_service: trade liquidation: %w", err)
	}
	return &event, nil
}

// TradeSeries returns the per-bar mark-to-market series for one trade,
// downsampled to at most maxPoints.
func (s *JournalService) TradeSeries(ctx context.Context, tradeID string, maxPoints int) ([]excursion.SeriesPoint, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("journal_service: get trade: %w", err)
	}
	bars, err := s.prices.BarsForWindow(ctx, trade.Source, trade.Symbol, trade.EntryTime, trade.ExitTime)
	if err != nil {
		return nil, fmt.Errorf("journal_service: trade series bars: %w", err)
	}
	points := excursion.Series(trade, bars)
	return excursion.Downsample(points, maxPoints), nil
}

// Summary aggregates journal statistics over the scope's trades.
func (s *JournalService) Summary(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts, initialEquity *float64) (stats.Summary, error) {
	trades, err := s.trades.List(ctx, scope, opts)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("journal_service: summary trades: %w", err)
	}
	return stats.Aggregate(trades, initialEquity), nil
}

// SymbolBreakdown aggregates per-symbol statistics over the scope's trades.
func (s *JournalService) SymbolBreakdown(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]stats.SymbolRow, error) {
	trades, err := s.trades.List(ctx, scope, opts)
	if err != nil {
		return nil, fmt.Errorf("journal_service: symbol breakdown trades: %w", err)
	}
	return stats.SymbolBreakdown(trades), nil
}

// Distribution buckets net PnL over the scope's trades.
func (s *JournalService) Distribution(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts, bins int) (stats.Distribution, error) {
	trades, err := s.trades.List(ctx, scope, opts)
	if err != nil {
		return stats.Distribution{}, fmt.Errorf("journal_service: distribution trades: %w", err)
	}
	return stats.PnLDistribution(trades, bins), nil
}

// TimePerformance buckets performance by exit hour and weekday over the
// scope's trades.
func (s *JournalService) TimePerformance(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) (stats.TimePerformance, error) {
	trades, err := s.trades.List(ctx, scope, opts)
	if err != nil {
		return stats.TimePerformance{}, fmt.Errorf("journal_service: time performance trades: %w", err)
	}
	return stats.ComputeTimePerformance(trades), nil
}
