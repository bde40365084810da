package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	q querier
}

// NewMarketStore creates a MarketStore over the given pool or transaction.
func NewMarketStore(q querier) *MarketStore {
	return &MarketStore{q: q}
}

const marketCols = `id, creator, milestone_id, authority,
	b_fp, fee_bps, deadline_ts, grace_period_secs,
	max_trade_fp, max_position_fp, cap_sell_proceeds, treasury, oracle,
	q_hit_fp, q_miss_fp, collateral_fp,
	outcome, paused, frozen, resolved_at, created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var outcome string
	err := row.Scan(
		&m.ID, &m.Creator, &m.MilestoneID, &m.Authority,
		&m.Params.BFP, &m.Params.FeeBps, &m.Params.DeadlineTS, &m.Params.GracePeriodSecs,
		&m.Params.MaxTradeFP, &m.Params.MaxPositionFP, &m.Params.CapSellProceeds,
		&m.Params.Treasury, &m.Params.Oracle,
		&m.QHitFP, &m.QMissFP, &m.CollateralFP,
		&outcome, &m.Paused, &m.Frozen, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Outcome = domain.Outcome(outcome)
	return m, nil
}

// Create inserts a new market. A duplicate id or (creator, milestone_id)
// pair reports domain.ErrAlreadyExists.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, creator, milestone_id, authority,
			b_fp, fee_bps, deadline_ts, grace_period_secs,
			max_trade_fp, max_position_fp, cap_sell_proceeds, treasury, oracle,
			q_hit_fp, q_miss_fp, collateral_fp,
			outcome, paused, frozen, resolved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21, $22
		)`

	_, err := s.q.Exec(ctx, query,
		m.ID, m.Creator, m.MilestoneID, m.Authority,
		m.Params.BFP, m.Params.FeeBps, m.Params.DeadlineTS, m.Params.GracePeriodSecs,
		m.Params.MaxTradeFP, m.Params.MaxPositionFP, m.Params.CapSellProceeds,
		m.Params.Treasury, m.Params.Oracle,
		m.QHitFP, m.QMissFP, m.CollateralFP,
		string(m.Outcome), m.Paused, m.Frozen, m.ResolvedAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Update rewrites the mutable state of an existing market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			authority         = $2,
			b_fp              = $3,
			fee_bps           = $4,
			deadline_ts       = $5,
			grace_period_secs = $6,
			max_trade_fp      = $7,
			max_position_fp   = $8,
			cap_sell_proceeds = $9,
			treasury          = $10,
			oracle            = $11,
			q_hit_fp          = $12,
			q_miss_fp         = $13,
			collateral_fp     = $14,
			outcome           = $15,
			paused            = $16,
			frozen            = $17,
			resolved_at       = $18,
			updated_at        = $19
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		m.ID, m.Authority,
		m.Params.BFP, m.Params.FeeBps, m.Params.DeadlineTS, m.Params.GracePeriodSecs,
		m.Params.MaxTradeFP, m.Params.MaxPositionFP, m.Params.CapSellProceeds,
		m.Params.Treasury, m.Params.Oracle,
		m.QHitFP, m.QMissFP, m.CollateralFP,
		string(m.Outcome), m.Paused, m.Frozen, m.ResolvedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListUnresolved returns markets that have not been resolved, newest first.
func (s *MarketStore) ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE outcome = 'unresolved'`
	args := []any{}
	argIdx := 1

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

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list unresolved markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan unresolved market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unresolved markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
