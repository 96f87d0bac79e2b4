package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perptools/journal/internal/domain"
)

// PriceBarStore implements domain.PriceBarStore using PostgreSQL.
type PriceBarStore struct {
	pool *pgxpool.Pool
}

// NewPriceBarStore creates a new PriceBarStore backed by the given connection pool.
func NewPriceBarStore(pool *pgxpool.Pool) *PriceBarStore {
	return &PriceBarStore{pool: pool}
}

// UpsertBatch inserts bars using a pgx Batch. Bars already stored for the
// same (source, symbol, timeframe, start) are silently skipped; historical
// candles are immutable once closed.
func (s *PriceBarStore) UpsertBatch(ctx context.Context, source, symbol, timeframe string, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO price_bars (
			source, symbol, timeframe, start_time, end_time,
			open, high, low, close
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		) ON CONFLICT (source, symbol, timeframe, start_time) DO NOTHING`

	for _, b := range bars {
		batch.Queue(query,
			source, symbol, timeframe, b.StartTime, b.EndTime,
			b.Open, b.High, b.Low, b.Close,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert price bar batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRange returns bars whose start time falls in [start, end), ordered by
// start time ascending.
func (s *PriceBarStore) ListRange(ctx context.Context, source, symbol, timeframe string, start, end time.Time) ([]domain.PriceBar, error) {
	const query = `
		SELECT start_time, end_time, open, high, low, close
		FROM price_bars
		WHERE source = $1 AND symbol = $2 AND timeframe = $3
		  AND start_time >= $4 AND start_time < $5
		ORDER BY start_time ASC`

	rows, err := s.pool.Query(ctx, query, source, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.StartTime, &b.EndTime, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("postgres: scan price bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list price bars rows: %w", err)
	}
	return bars, nil
}
