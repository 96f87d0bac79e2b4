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

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `order_id, client_order_id, source, account_id, symbol,
	side, size, price, reduce_only, is_position_tpsl, is_open_tpsl,
	is_set_open_sl, is_set_open_tp, open_sl_price, open_sl_trigger,
	open_tp_price, open_tp_trigger, trigger_price, order_type, status,
	created_at, raw`

func scanOrderRows(rows pgx.Rows) ([]domain.OrderRecord, error) {
	var orders []domain.OrderRecord
	for rows.Next() {
		var o domain.OrderRecord
		var rawJSON []byte
		var slPrice, slTrigger, tpPrice, tpTrigger *float64
		if err := rows.Scan(
			&o.OrderID, &o.ClientOrderID, &o.Source, &o.AccountID, &o.Symbol,
			&o.Side, &o.Size, &o.Price, &o.ReduceOnly, &o.IsPositionTPSL,
			&o.IsOpenTPSL, &o.IsSetOpenSL, &o.IsSetOpenTP,
			&slPrice, &slTrigger, &tpPrice, &tpTrigger,
			&o.TriggerPrice, &o.OrderType, &o.Status, &o.CreatedAt, &rawJSON,
		); err != nil {
			return nil, err
		}
		if slPrice != nil || slTrigger != nil {
			o.OpenSLParam = &domain.TPSLParam{Price: slPrice, TriggerPrice: slTrigger}
		}
		if tpPrice != nil || tpTrigger != nil {
			o.OpenTPParam = &domain.TPSLParam{Price: tpPrice, TriggerPrice: tpTrigger}
		}
		if rawJSON != nil {
			if err := json.Unmarshal(rawJSON, &o.Raw); err != nil {
				return nil, err
			}
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpsertBatch inserts orders using a pgx Batch. Re-fetched orders with the
// same (source, account, order id) are silently skipped.
func (s *OrderStore) UpsertBatch(ctx context.Context, orders []domain.OrderRecord) error {
	if len(orders) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO orders (
			order_id, client_order_id, source, account_id, symbol,
			side, size, price, reduce_only, is_position_tpsl, is_open_tpsl,
			is_set_open_sl, is_set_open_tp, open_sl_price, open_sl_trigger,
			open_tp_price, open_tp_trigger, trigger_price, order_type, status,
			created_at, raw
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22
		) ON CONFLICT (source, account_id, order_id) DO NOTHING`

	for _, o := range orders {
		rawJSON, err := json.Marshal(o.Raw)
		if err != nil {
			return fmt.Errorf("postgres: marshal order raw: %w", err)
		}
		var slPrice, slTrigger, tpPrice, tpTrigger *float64
		if o.OpenSLParam != nil {
			slPrice, slTrigger = o.OpenSLParam.Price, o.OpenSLParam.TriggerPrice
		}
		if o.OpenTPParam != nil {
			tpPrice, tpTrigger = o.OpenTPParam.Price, o.OpenTPParam.TriggerPrice
		}
		batch.Queue(query,
			o.OrderID, o.ClientOrderID, o.Source, o.AccountID, o.Symbol,
			o.Side, o.Size, o.Price, o.ReduceOnly, o.IsPositionTPSL, o.IsOpenTPSL,
			o.IsSetOpenSL, o.IsSetOpenTP, slPrice, slTrigger,
			tpPrice, tpTrigger, o.TriggerPrice, o.OrderType, o.Status,
			o.CreatedAt, rawJSON,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range orders {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert order batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns orders for the scope, optionally narrowed to one symbol,
// oldest first.
func (s *OrderStore) List(ctx context.Context, scope domain.AccountScope, symbol string) ([]domain.OrderRecord, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)
	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", len(args)+1)
		args = append(args, symbol)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// GetLastCreatedAt returns the most recent order creation time for the scope,
// or the zero time if no orders exist.
func (s *OrderStore) GetLastCreatedAt(ctx context.Context, scope domain.AccountScope) (time.Time, error) {
	query := `SELECT MAX(created_at) FROM orders WHERE 1=1`
	args := []any{}
	query, args = applyScope(query, args, scope)

	var ts *time.Time
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last order created_at: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListBefore returns all orders created strictly before the given time,
// oldest first, for archiving.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OrderRecord, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE created_at < $1 ORDER BY created_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// DeleteBefore deletes all orders created before the given time. Returns the
// number deleted.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before: %w", err)
	}
	return tag.RowsAffected(), nil
}
