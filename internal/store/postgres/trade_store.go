package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perptools/journal/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
//
// Trades are derived data: reconstruction rewrites the full set for a scope
// on every sync, so writes go through ReplaceForScope rather than row-level
// upserts. The constituent fills are stored inline as JSONB because they are
// only ever read back alongside their trade.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `trade_id, source, account_id, symbol, side,
	entry_time, exit_time, entry_price, exit_price, entry_size, exit_size,
	max_size, realized_pnl, fees, funding_fees, fills, mae, mfe, etd,
	stop_price, initial_risk, r_multiple, risk_source,
	target_price, target_pnl, target_source, equity_at_entry, liquidation_id`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var fillsJSON []byte
	if err := row.Scan(
		&t.TradeID, &t.Source, &t.AccountID, &t.Symbol, &t.Side,
		&t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice,
		&t.EntrySize, &t.ExitSize, &t.MaxSize, &t.RealizedPnL,
		&t.Fees, &t.FundingFees, &fillsJSON, &t.MAE, &t.MFE, &t.ETD,
		&t.StopPrice, &t.InitialRisk, &t.RMultiple, &t.RiskSource,
		&t.TargetPrice, &t.TargetPnL, &t.TargetSource, &t.EquityAtEntry,
		&t.LiquidationID,
	); err != nil {
		return domain.Trade{}, err
	}
	if fillsJSON != nil {
		if err := json.Unmarshal(fillsJSON, &t.Fills); err != nil {
			return domain.Trade{}, err
		}
	}
	return t, nil
}

// ReplaceForScope atomically swaps the stored trades for one scope with the
// given set. Reconstruction always produces the complete set for a scope, so
// stale trades from earlier runs must not survive.
func (s *TradeStore) ReplaceForScope(ctx context.Context, scope domain.AccountScope, trades []domain.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace trades: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	del := `DELETE FROM trades WHERE 1=1`
	args := []any{}
	del, args = applyScope(del, args, scope)
	if _, err := tx.Exec(ctx, del, args...); err != nil {
		return fmt.Errorf("postgres: delete trades for scope: %w", err)
	}

	const query = `
		INSERT INTO trades (
			trade_id, source, account_id, symbol, side,
			entry_time, exit_time, entry_price, exit_price, entry_size,
			exit_size, max_size, realized_pnl, fees, funding_fees, fills,
			mae, mfe, etd, stop_price, initial_risk, r_multiple, risk_source,
			target_price, target_pnl, target_source, equity_at_entry,
			liquidation_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23,
			$24, $25, $26, $27, $28
		)`

	batch := &pgx.Batch{}
	for _, t := range trades {
		fillsJSON, err := json.Marshal(t.Fills)
		if err != nil {
			return fmt.Errorf("postgres: marshal trade fills: %w", err)
		}
		batch.Queue(query,
			t.TradeID, t.Source, t.AccountID, t.Symbol, t.Side,
			t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice, t.EntrySize,
			t.ExitSize, t.MaxSize, t.RealizedPnL, t.Fees, t.FundingFees, fillsJSON,
			t.MAE, t.MFE, t.ETD, t.StopPrice, t.InitialRisk, t.RMultiple, t.RiskSource,
			t.TargetPrice, t.TargetPnL, t.TargetSource, t.EquityAtEntry,
			t.LiquidationID,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close trade batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace trades: %w", err)
	}
	return nil
}

// List returns trades for the scope ordered by exit time descending.
func (s *TradeStore) List(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)
	query, args = applyWindow(query, args, opts, "exit_time")
	query += " ORDER BY exit_time DESC"
	query, args = applyPage(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// GetByID returns a single trade, or domain.ErrNotFound if no trade has the
// given id.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE trade_id = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", tradeID, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", tradeID, err)
	}
	return t, nil
}

// ListBySymbol returns trades for one symbol in the scope ordered by exit
// time descending.
func (s *TradeStore) ListBySymbol(ctx context.Context, scope domain.AccountScope, symbol string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE symbol = $1`
	args := []any{symbol}
	query, args = applyScope(query, args, scope)
	query, args = applyWindow(query, args, opts, "exit_time")
	query += " ORDER BY exit_time DESC"
	query, args = applyPage(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by symbol: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by symbol: %w", err)
	}
	return trades, nil
}
