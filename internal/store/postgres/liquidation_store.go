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

// LiquidationStore implements domain.LiquidationStore using PostgreSQL.
type LiquidationStore struct {
	pool *pgxpool.Pool
}

// NewLiquidationStore creates a new LiquidationStore backed by the given
// connection pool.
func NewLiquidationStore(pool *pgxpool.Pool) *LiquidationStore {
	return &LiquidationStore{pool: pool}
}

const liquidationSelectCols = `liquidation_id, source, account_id, symbol,
	side, size, entry_price, exit_price, total_pnl, fee, liquidate_fee,
	created_at, exit_type, raw`

func scanLiquidationRows(rows pgx.Rows) ([]domain.LiquidationEvent, error) {
	var events []domain.LiquidationEvent
	for rows.Next() {
		e, err := scanLiquidation(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanLiquidation(row pgx.Row) (domain.LiquidationEvent, error) {
	var e domain.LiquidationEvent
	var rawJSON []byte
	if err := row.Scan(
		&e.LiquidationID, &e.Source, &e.AccountID, &e.Symbol,
		&e.Side, &e.Size, &e.EntryPrice, &e.ExitPrice, &e.TotalPnL,
		&e.Fee, &e.LiquidateFee, &e.CreatedAt, &e.ExitType, &rawJSON,
	); err != nil {
		return domain.LiquidationEvent{}, err
	}
	if rawJSON != nil {
		if err := json.Unmarshal(rawJSON, &e.Raw); err != nil {
			return domain.LiquidationEvent{}, err
		}
	}
	return e, nil
}

// UpsertBatch inserts liquidation events using a pgx Batch. Events already
// present for the same (source, account, liquidation id) are silently
// skipped, so re-deriving from the same raw records is idempotent.
func (s *LiquidationStore) UpsertBatch(ctx context.Context, events []domain.LiquidationEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO liquidations (
			liquidation_id, source, account_id, symbol, side,
			size, entry_price, exit_price, total_pnl, fee,
			liquidate_fee, created_at, exit_type, raw
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		) ON CONFLICT (source, account_id, liquidation_id) DO NOTHING`

	for _, e := range events {
		rawJSON, err := json.Marshal(e.Raw)
		if err != nil {
			return fmt.Errorf("postgres: marshal liquidation raw: %w", err)
		}
		batch.Queue(query,
			e.LiquidationID, e.Source, e.AccountID, e.Symbol, e.Side,
			e.Size, e.EntryPrice, e.ExitPrice, e.TotalPnL, e.Fee,
			e.LiquidateFee, e.CreatedAt, e.ExitType, rawJSON,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert liquidation batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns liquidation events for the scope ordered by creation time
// descending.
func (s *LiquidationStore) List(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.LiquidationEvent, error) {
	query := `SELECT ` + liquidationSelectCols + ` FROM liquidations WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)
	query, args = applyWindow(query, args, opts, "created_at")
	query += " ORDER BY created_at DESC"
	query, args = applyPage(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations: %w", err)
	}
	defer rows.Close()

	events, err := scanLiquidationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan liquidations: %w", err)
	}
	return events, nil
}

// GetByID returns a single liquidation event in the scope, or
// domain.ErrNotFound if no event has the given id.
func (s *LiquidationStore) GetByID(ctx context.Context, scope domain.AccountScope, liquidationID string) (domain.LiquidationEvent, error) {
	query := `SELECT ` + liquidationSelectCols + ` FROM liquidations WHERE liquidation_id = $1`
	args := []any{liquidationID}
	query, args = applyScope(query, args, scope)

	e, err := scanLiquidation(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidationEvent{}, fmt.Errorf("postgres: liquidation %s: %w", liquidationID, domain.ErrNotFound)
		}
		return domain.LiquidationEvent{}, fmt.Errorf("postgres: get liquidation %s: %w", liquidationID, err)
	}
	return e, nil
}
