package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	q querier
}

// NewPositionStore creates a PositionStore over the given pool or transaction.
func NewPositionStore(q querier) *PositionStore {
	return &PositionStore{q: q}
}

const positionCols = `market_id, user_id, hit_shares_fp, miss_shares_fp, updated_at`

// Get returns the user's position in a market. A missing row is a valid
// zero-value position, not an error.
func (s *PositionStore) Get(ctx context.Context, marketID, user string) (domain.Position, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 AND user_id = $2`,
		marketID, user)

	var p domain.Position
	err := row.Scan(&p.MarketID, &p.User, &p.HitSharesFP, &p.MissSharesFP, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{MarketID: marketID, User: user}, nil
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, user, err)
	}
	return p, nil
}

// Upsert writes the user's share balances for a market.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (market_id, user_id, hit_shares_fp, miss_shares_fp, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, user_id) DO UPDATE SET
			hit_shares_fp  = EXCLUDED.hit_shares_fp,
			miss_shares_fp = EXCLUDED.miss_shares_fp,
			updated_at     = EXCLUDED.updated_at`

	_, err := s.q.Exec(ctx, query,
		pos.MarketID, pos.User, pos.HitSharesFP, pos.MissSharesFP, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", pos.MarketID, pos.User, err)
	}
	return nil
}

// ListByMarket returns all positions in a market, largest holders first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE market_id = $1
		ORDER BY hit_shares_fp + miss_shares_fp DESC`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", marketID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.MarketID, &p.User, &p.HitSharesFP, &p.MissSharesFP, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions %s rows: %w", marketID, err)
	}
	return positions, nil
}
