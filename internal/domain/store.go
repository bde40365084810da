package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market state.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	Update(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListUnresolved(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists per-user share balances. Get returns a zero-value
// position (not ErrNotFound) when no row exists.
type PositionStore interface {
	Get(ctx context.Context, marketID, user string) (Position, error)
	Upsert(ctx context.Context, pos Position) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Position, error)
}

// FillStore persists the append-only trade history.
type FillStore interface {
	Insert(ctx context.Context, fill Fill) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Fill, error)
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]Fill, error)
}

// CollateralLedger is the opaque collateral primitive the host provides.
// Transfer debits and credits atomically and fails the whole operation with
// ErrInsufficientFunds when the source balance is short. Amounts are
// fixed-point and non-negative.
type CollateralLedger interface {
	Balance(ctx context.Context, account string) (int64, error)
	Credit(ctx context.Context, account string, amountFP int64) error
	Transfer(ctx context.Context, from, to string, amountFP int64) error
}

// TxStores bundles the stores participating in one atomic commit.
type TxStores struct {
	Markets    MarketStore
	Positions  PositionStore
	Fills      FillStore
	Collateral CollateralLedger
}

// Transactor runs fn against stores whose writes become visible all at once
// on success and not at all on failure.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(TxStores) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Clock abstracts wall-clock reads so lifecycle math is testable. The
// engine never reads a clock; services sample it once per operation and
// pass the instant down.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }
