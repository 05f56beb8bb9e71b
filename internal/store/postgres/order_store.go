package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyseer/polyseer/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create persists a submitted order.
func (s *OrderStore) Create(ctx context.Context, o domain.OrderRecord) error {
	const query = `
		INSERT INTO orders (
			id, run_id, market_id, token_id, side, price,
			amount, nonce, exchange_id, status, signature, submitted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.RunID, o.MarketID, o.TokenID, string(o.Side), o.Price,
		o.Amount, o.Nonce, nullableStr(o.ExchangeID), o.Status, o.Signature, o.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus changes the status of a stored order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("postgres: update order %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s status: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByRun returns all orders submitted during a run, oldest first.
func (s *OrderStore) ListByRun(ctx context.Context, runID string) ([]domain.OrderRecord, error) {
	const query = `
		SELECT id, run_id, market_id, token_id, side, price,
		       amount, nonce, COALESCE(exchange_id, ''), status, signature, submitted_at
		FROM orders
		WHERE run_id = $1
		ORDER BY submitted_at ASC`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for run %s: %w", runID, err)
	}
	defer rows.Close()

	var orders []domain.OrderRecord
	for rows.Next() {
		var o domain.OrderRecord
		var side string
		if err := rows.Scan(
			&o.ID, &o.RunID, &o.MarketID, &o.TokenID, &side, &o.Price,
			&o.Amount, &o.Nonce, &o.ExchangeID, &o.Status, &o.Signature, &o.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
