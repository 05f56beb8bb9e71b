package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyseer/polyseer/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create persists a run report.
func (s *RunStore) Create(ctx context.Context, r domain.RunReport) error {
	const query = `
		INSERT INTO runs (
			run_id, attempt, outcome, events_found, events_selected,
			markets_found, markets_ranked, market_id, token_id, side,
			amount, order_id, reason, started_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Attempt, string(r.Outcome), r.EventsFound, r.EventsSelected,
		r.MarketsFound, r.MarketsRanked, nullableID(r.MarketID), nullableStr(r.TokenID), nullableStr(string(r.Side)),
		r.Amount, nullableStr(r.OrderID), nullableStr(r.Reason), r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRecent returns the most recent run reports, newest first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT run_id, attempt, outcome, events_found, events_selected,
		       markets_found, markets_ranked,
		       COALESCE(market_id, 0), COALESCE(token_id, ''), COALESCE(side, ''),
		       amount, COALESCE(order_id, ''), COALESCE(reason, ''),
		       started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var reports []domain.RunReport
	for rows.Next() {
		var r domain.RunReport
		var outcome, side string
		if err := rows.Scan(
			&r.RunID, &r.Attempt, &outcome, &r.EventsFound, &r.EventsSelected,
			&r.MarketsFound, &r.MarketsRanked, &r.MarketID, &r.TokenID, &side,
			&r.Amount, &r.OrderID, &r.Reason, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		r.Outcome = domain.RunOutcome(outcome)
		r.Side = domain.OrderSide(side)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs rows: %w", err)
	}
	return reports, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
