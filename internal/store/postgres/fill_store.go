package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	q querier
}

// NewFillStore creates a FillStore over the given pool or transaction.
func NewFillStore(q querier) *FillStore {
	return &FillStore{q: q}
}

const fillCols = `id, market_id, user_id, kind, side,
	collateral_fp, shares_fp, fee_fp, price_hit_milli, created_at`

// Insert appends a fill to the trade history.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, market_id, user_id, kind, side,
			collateral_fp, shares_fp, fee_fp, price_hit_milli, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.q.Exec(ctx, query,
		f.ID, f.MarketID, f.User, string(f.Kind), string(f.Side),
		f.CollateralFP, f.SharesFP, f.FeeFP, f.PriceHitMilli, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var kind, side string
		if err := rows.Scan(
			&f.ID, &f.MarketID, &f.User, &kind, &side,
			&f.CollateralFP, &f.SharesFP, &f.FeeFP, &f.PriceHitMilli, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Kind = domain.FillKind(kind)
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fill rows: %w", err)
	}
	return fills, nil
}

func listFillsWhere(ctx context.Context, q querier, where, key string, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE ` + where + ` = $1`
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by %s %s: %w", where, key, err)
	}
	return scanFillRows(rows)
}

// ListByMarket returns a market's fills, newest first.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Fill, error) {
	return listFillsWhere(ctx, s.q, "market_id", marketID, opts)
}

// ListByUser returns a user's fills across markets, newest first.
func (s *FillStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Fill, error) {
	return listFillsWhere(ctx, s.q, "user_id", user, opts)
}
