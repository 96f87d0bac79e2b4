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

// FundingStore implements domain.FundingStore using PostgreSQL.
type FundingStore struct {
	pool *pgxpool.Pool
}

// NewFundingStore creates a new FundingStore backed by the given connection pool.
func NewFundingStore(pool *pgxpool.Pool) *FundingStore {
	return &FundingStore{pool: pool}
}

const fundingSelectCols = `funding_id, transaction_id, symbol, side, rate,
	position_size, price, funding_time, funding_value, status, source,
	account_id, raw`

func scanFundingRows(rows pgx.Rows) ([]domain.FundingEvent, error) {
	var events []domain.FundingEvent
	for rows.Next() {
		var e domain.FundingEvent
		var rawJSON []byte
		if err := rows.Scan(
			&e.FundingID, &e.TransactionID, &e.Symbol, &e.Side, &e.Rate,
			&e.PositionSize, &e.Price, &e.FundingTime, &e.FundingValue,
			&e.Status, &e.Source, &e.AccountID, &rawJSON,
		); err != nil {
			return nil, err
		}
		if rawJSON != nil {
			if err := json.Unmarshal(rawJSON, &e.Raw); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertBatch inserts funding events using a pgx Batch. Events already present
// for the same (source, account, funding id) are silently skipped.
func (s *FundingStore) UpsertBatch(ctx context.Context, events []domain.FundingEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO funding_events (
			funding_id, transaction_id, symbol, side, rate,
			position_size, price, funding_time, funding_value, status,
			source, account_id, raw
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		) ON CONFLICT (source, account_id, funding_id) WHERE funding_id <> '' DO NOTHING`

	for _, e := range events {
		rawJSON, err := json.Marshal(e.Raw)
		if err != nil {
			return fmt.Errorf("postgres: marshal funding raw: %w", err)
		}
		batch.Queue(query,
			e.FundingID, e.TransactionID, e.Symbol, e.Side, e.Rate,
			e.PositionSize, e.Price, e.FundingTime, e.FundingValue, e.Status,
			e.Source, e.AccountID, rawJSON,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert funding batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns funding events for the scope ordered by funding time ascending.
func (s *FundingStore) List(ctx context.Context, scope domain.AccountScope, opts domain.ListOpts) ([]domain.FundingEvent, error) {
	query := `SELECT ` + fundingSelectCols + ` FROM funding_events WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)
	query, args = applyWindow(query, args, opts, "funding_time")
	query += " ORDER BY funding_time ASC, id ASC"
	query, args = applyPage(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding events: %w", err)
	}
	defer rows.Close()

	events, err := scanFundingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan funding events: %w", err)
	}
	return events, nil
}

// GetLastTimestamp returns the most recent funding time for the scope, or the
// zero time if no events exist.
func (s *FundingStore) GetLastTimestamp(ctx context.Context, scope domain.AccountScope) (time.Time, error) {
	query := `SELECT MAX(funding_time) FROM funding_events WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)

	var ts *time.Time
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last funding timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListBefore returns all funding events strictly before the given time,
// oldest first, for archiving.
func (s *FundingStore) ListBefore(ctx context.Context, before time.Time) ([]domain.FundingEvent, error) {
	query := `SELECT ` + fundingSelectCols + ` FROM funding_events WHERE funding_time < $1 ORDER BY funding_time ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding events before: %w", err)
	}
	defer rows.Close()
	return scanFundingRows(rows)
}

// DeleteBefore deletes all funding events before the given time. Returns the
// number deleted.
func (s *FundingStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM funding_events WHERE funding_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete funding events before: %w", err)
	}
	return tag.RowsAffected(), nil
}
