package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perptools/journal/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `fill_id, order_id, symbol, side, price, size, fee,
	fee_asset, timestamp, source, account_id, raw`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var rawJSON []byte
		if err := rows.Scan(
			&f.FillID, &f.OrderID, &f.Symbol, &f.Side, &f.Price, &f.Size,
			&f.Fee, &f.FeeAsset, &f.Timestamp, &f.Source, &f.AccountID, &rawJSON,
		); err != nil {
			return nil, err
		}
		if rawJSON != nil {
			if err := json.Unmarshal(rawJSON, &f.Raw); err != nil {
				return nil, err
			}
		}
		f.Origin = domain.OriginWhole
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// UpsertBatch inserts fills using a pgx Batch. Fills already present for the
// same (source, account, fill id) are silently skipped. Only venue executions
// are persisted; synthetic split slices live inside trades.
func (s *FillStore) UpsertBatch(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			fill_id, order_id, symbol, side, price, size, fee,
			fee_asset, timestamp, source, account_id, raw
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		) ON CONFLICT (source, account_id, fill_id) WHERE fill_id <> '' DO NOTHING`

	for _, f := range fills {
		rawJSON, err := json.Marshal(f.Raw)
		if err != nil {
			return fmt.Errorf("postgres: marshal fill raw: %w", err)
		}
		batch.Queue(query,
			f.FillID, f.OrderID, f.Symbol, f.Side, f.Price, f.Size, f.Fee,
			f.FeeAsset, f.Timestamp, f.Source, f.AccountID, rawJSON,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns fills for the scope ordered by time ascending, which is the
// order reconstruction consumes them in.
func (s *FillStore) List(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)
	query, args = applyWindow(query, args, opts, "timestamp")
	query += " ORDER BY timestamp ASC, id ASC"
	query, args = applyPage(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

// GetLastTimestamp returns the most recent fill timestamp for the scope, or
// the zero time if no fills exist.
func (s *FillStore) GetLastTimestamp(ctx context.Context, scope domain.AccountScope) (time.Time, error) {
	query := `SELECT MAX(timestamp) FROM fills WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)

	var ts *time.Time
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last fill timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListBefore returns all fills strictly before the given time, oldest first,
// for archiving.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE timestamp < $1 ORDER BY timestamp ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}

// DeleteBefore deletes all fills before the given time. Returns the number
// deleted.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}
