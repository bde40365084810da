package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// CollateralStore implements domain.CollateralLedger using PostgreSQL.
// Balances are fixed-point and enforced non-negative by a table CHECK, so
// concurrent debits can never drive an account below zero.
type CollateralStore struct {
	q querier
}

// NewCollateralStore creates a CollateralStore over the given pool or
// transaction.
func NewCollateralStore(q querier) *CollateralStore {
	return &CollateralStore{q: q}
}

// Balance returns the account's balance; zero for an unknown account.
func (s *CollateralStore) Balance(ctx context.Context, account string) (int64, error) {
	var bal int64
	err := s.q.QueryRow(ctx,
		`SELECT balance_fp FROM collateral_accounts WHERE account = $1`, account,
	).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return bal, nil
}

// Credit adds collateral to an account, creating it on first use.
func (s *CollateralStore) Credit(ctx context.Context, account string, amountFP int64) error {
	if amountFP < 0 {
		return fmt.Errorf("postgres: credit %s: %w: negative amount", account, domain.ErrInvalidParams)
	}
	const query = `
		INSERT INTO collateral_accounts (account, balance_fp, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET
			balance_fp = collateral_accounts.balance_fp + EXCLUDED.balance_fp,
			updated_at = NOW()`
	if _, err := s.q.Exec(ctx, query, account, amountFP); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

// Transfer moves collateral between accounts. The debit is guarded by the
// balance so an underfunded source reports domain.ErrInsufficientFunds
// without touching either row.
func (s *CollateralStore) Transfer(ctx context.Context, from, to string, amountFP int64) error {
	if amountFP < 0 {
		return fmt.Errorf("postgres: transfer %s->%s: %w: negative amount", from, to, domain.ErrInvalidParams)
	}
	if amountFP == 0 {
		return nil
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE collateral_accounts
		SET balance_fp = balance_fp - $2, updated_at = NOW()
		WHERE account = $1 AND balance_fp >= $2`,
		from, amountFP)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return fmt.Errorf("postgres: transfer %s->%s: %w", from, to, domain.ErrInsufficientFunds)
		}
		return fmt.Errorf("postgres: transfer %s->%s debit: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transfer %s->%s: %w", from, to, domain.ErrInsufficientFunds)
	}

	if err := s.Credit(ctx, to, amountFP); err != nil {
		return fmt.Errorf("postgres: transfer %s->%s credit: %w", from, to, err)
	}
	return nil
}
