package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perptools/journal/internal/domain"
)

// EquityStore implements domain.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *pgxpool.Pool
}

// NewEquityStore creates a new EquityStore backed by the given connection pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// Insert appends one account value snapshot.
func (s *EquityStore) Insert(ctx context.Context, snap domain.EquitySnapshot) error {
	const query = `
		INSERT INTO equity_snapshots (timestamp, total_value, source, account_id)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, snap.Timestamp, snap.TotalValue, snap.Source, snap.AccountID); err != nil {
		return fmt.Errorf("postgres: insert equity snapshot: %w", err)
	}
	return nil
}

// List returns snapshots for the scope ordered by time ascending, which is
// the order equity annotation consumes them in.
func (s *EquityStore) List(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.EquitySnapshot, error) {
	query := `SELECT timestamp, total_value, source, account_id FROM equity_snapshots WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)
	query, args = applyWindow(query, args, opts, "timestamp")
	query += " ORDER BY timestamp ASC"
	query, args = applyPage(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.EquitySnapshot
	for rows.Next() {
		var e domain.EquitySnapshot
		if err := rows.Scan(&e.Timestamp, &e.TotalValue, &e.Source, &e.AccountID); err != nil {
			return nil, fmt.Errorf("postgres: scan equity snapshot: %w", err)
		}
		snaps = append(snaps, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list equity snapshots rows: %w", err)
	}
	return snaps, nil
}
