package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/fixedpoint"
	"github.com/btorressz/milestone-amm/internal/store/memory"
)

const fp = fixedpoint.Scale

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

type fixture struct {
	store      *memory.Store
	clock      *fakeClock
	markets    *MarketService
	trades     *TradeService
	positions  *PositionService
	settlement *SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	locks := memory.NewLockManager()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}

	return &fixture{
		store:      store,
		clock:      clock,
		markets:    NewMarketService(store, store.Markets(), locks, clock, nil, store.Audit(), logger),
		trades:     NewTradeService(store, store.Markets(), locks, clock, nil, nil, store.Audit(), logger),
		positions:  NewPositionService(store.Positions(), store.Fills(), logger),
		settlement: NewSettlementService(store, store.Markets(), locks, clock, nil, store.Audit(), nil, logger),
	}
}

func (f *fixture) params() domain.MarketParams {
	return domain.MarketParams{
		BFP:             200_000,
		FeeBps:          50,
		DeadlineTS:      f.clock.t.Add(time.Hour).Unix(),
		GracePeriodSecs: 600,
		MaxTradeFP:      1_000 * fp,
		MaxPositionFP:   100_000 * fp,
	}
}

// fund credits a ledger account directly, standing in for the host's token
// mechanics.
func (f *fixture) fund(t *testing.T, account string, amountFP int64) {
	t.Helper()
	require.NoError(t, f.store.Ledger().Credit(context.Background(), account, amountFP))
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	bal, err := f.store.Ledger().Balance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func TestInitSeedBuySellFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500*fp)
	f.fund(t, "bob", 100*fp)

	m, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)
	assert.Equal(t, domain.DeriveMarketID("alice", "milestone-1"), m.ID)

	m, err = f.markets.Seed(ctx, m.ID, "alice", 500*fp)
	require.NoError(t, err)
	assert.Equal(t, int64(500*fp), m.CollateralFP)
	assert.Zero(t, f.balance(t, "alice"), "seed debits the authority")
	assert.Equal(t, int64(500*fp), f.balance(t, m.VaultAccount()))

	buy, err := f.trades.Buy(ctx, m.ID, "bob", domain.SideHit, 100*fp, 0)
	require.NoError(t, err)
	assert.Greater(t, buy.SharesFP, int64(0))
	assert.Zero(t, f.balance(t, "bob"))
	assert.Equal(t, int64(600*fp), f.balance(t, m.VaultAccount()))

	// Ledger and market vault mirror agree.
	got, err := f.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, f.balance(t, m.VaultAccount()), got.CollateralFP)

	pos, err := f.positions.Get(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, buy.SharesFP, pos.HitSharesFP)

	sell, err := f.trades.Sell(ctx, m.ID, "bob", domain.SideHit, buy.SharesFP/2, 0)
	require.NoError(t, err)
	assert.Greater(t, sell.CollateralFP, int64(0))
	assert.Equal(t, sell.CollateralFP, f.balance(t, "bob"))

	fills, err := f.trades.ListFills(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, fills, 3) // seed, buy, sell
}

func TestDuplicateInitRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)
	_, err = f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestBuyWithoutFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500*fp)

	m, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)
	_, err = f.markets.Seed(ctx, m.ID, "alice", 500*fp)
	require.NoError(t, err)

	// bob has no ledger balance: the engine accepts the trade but the
	// ledger transfer fails and everything rolls back.
	_, err = f.trades.Buy(ctx, m.ID, "bob", domain.SideHit, 50*fp, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	got, err := f.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500*fp), got.CollateralFP, "vault unchanged")
	assert.Zero(t, got.QHitFP)

	pos, err := f.positions.Get(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.True(t, pos.IsEmpty())

	fills, err := f.trades.ListFills(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, fills, 1, "only the seed fill exists")
}

func TestQuoteDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500*fp)

	m, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)
	_, err = f.markets.Seed(ctx, m.ID, "alice", 500*fp)
	require.NoError(t, err)

	q, err := f.trades.QuoteBuy(ctx, m.ID, domain.SideHit, 100*fp)
	require.NoError(t, err)
	assert.Greater(t, q.SharesOutFP, int64(0))

	got, err := f.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, got.QHitFP, "quote leaves the book untouched")
	assert.Equal(t, int64(500*fp), got.CollateralFP)

	// A quote for a market that cannot trade is zeros, not an error.
	f.clock.t = time.Unix(m.Params.DeadlineTS, 0)
	q, err = f.trades.QuoteBuy(ctx, m.ID, domain.SideHit, 100*fp)
	require.NoError(t, err)
	assert.Zero(t, q.SharesOutFP)
}

func TestResolveAndRedeemFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500*fp)
	f.fund(t, "bob", 100*fp)

	m, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)
	_, err = f.markets.Seed(ctx, m.ID, "alice", 500*fp)
	require.NoError(t, err)
	buy, err := f.trades.Buy(ctx, m.ID, "bob", domain.SideHit, 100*fp, 0)
	require.NoError(t, err)

	// Resolution before the deadline is rejected.
	_, err = f.settlement.Resolve(ctx, m.ID, "alice", domain.OutcomeHit)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	f.clock.t = time.Unix(m.Params.DeadlineTS, 0)
	resolved, err := f.settlement.Resolve(ctx, m.ID, "alice", domain.OutcomeHit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeHit, resolved.Outcome)

	payout, err := f.settlement.Redeem(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, buy.SharesFP, payout)
	assert.Equal(t, payout, f.balance(t, "bob"))

	// Trading a resolved market fails.
	_, err = f.trades.Buy(ctx, m.ID, "bob", domain.SideHit, 10*fp, 0)
	assert.ErrorIs(t, err, domain.ErrMarketPaused)
}

func TestExpiredSweepAndRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500*fp)
	f.fund(t, "bob", 100*fp)

	m, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)
	_, err = f.markets.Seed(ctx, m.ID, "alice", 500*fp)
	require.NoError(t, err)
	buy, err := f.trades.Buy(ctx, m.ID, "bob", domain.SideHit, 100*fp, 0)
	require.NoError(t, err)

	f.clock.t = time.Unix(m.Params.DeadlineTS+m.Params.GracePeriodSecs, 0)

	// Resolution missed its window.
	_, err = f.settlement.Resolve(ctx, m.ID, "alice", domain.OutcomeHit)
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)

	require.NoError(t, f.settlement.SweepExpired(ctx))

	payout, err := f.settlement.Redeem(ctx, m.ID, "bob")
	require.NoError(t, err)
	// The vault easily covers a 1.0 per-share refund here.
	assert.Equal(t, buy.SharesFP, payout)
}

func TestSnapshotPhases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", 500*fp)

	m, err := f.markets.Init(ctx, "alice", "milestone-1", "alice", f.params())
	require.NoError(t, err)

	snap, err := f.markets.Snapshot(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseSeeding, snap.Phase)
	assert.Equal(t, int64(500), snap.PriceHitMilli, "empty book prices at 0.5")

	_, err = f.markets.Seed(ctx, m.ID, "alice", 500*fp)
	require.NoError(t, err)
	snap, err = f.markets.Snapshot(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseActive, snap.Phase)
}
