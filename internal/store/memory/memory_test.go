package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/milestone-amm/internal/domain"
)

func testMarket(id string) domain.Market {
	now := time.Unix(1_700_000_000, 0)
	return domain.Market{
		ID:          id,
		Creator:     "alice",
		MilestoneID: id,
		Authority:   "alice",
		Params: domain.MarketParams{
			BFP:             200_000,
			FeeBps:          50,
			DeadlineTS:      now.Add(time.Hour).Unix(),
			GracePeriodSecs: 600,
		},
		Outcome:   domain.OutcomeUnresolved,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMarketCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()
	markets := s.Markets()

	require.NoError(t, markets.Create(ctx, testMarket("m1")))
	assert.ErrorIs(t, markets.Create(ctx, testMarket("m1")), domain.ErrAlreadyExists)

	_, err := markets.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m := testMarket("m1")
	m.Paused = true
	require.NoError(t, markets.Update(ctx, m))
	got, err := markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Paused)

	assert.ErrorIs(t, markets.Update(ctx, testMarket("missing")), domain.ErrNotFound)
}

func TestListUnresolvedFiltersTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	markets := s.Markets()

	require.NoError(t, markets.Create(ctx, testMarket("m1")))
	resolved := testMarket("m2")
	resolved.Outcome = domain.OutcomeHit
	require.NoError(t, markets.Create(ctx, resolved))

	open, err := markets.ListUnresolved(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "m1", open[0].ID)

	n, err := markets.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPositionGetReturnsZeroValue(t *testing.T) {
	s := New()
	ctx := context.Background()

	pos, err := s.Positions().Get(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "m1", pos.MarketID)
	assert.Equal(t, "bob", pos.User)
	assert.True(t, pos.IsEmpty())

	pos.HitSharesFP = 42
	require.NoError(t, s.Positions().Upsert(ctx, pos))
	got, err := s.Positions().Get(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.HitSharesFP)
}

func TestLedgerTransfer(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := s.Ledger()

	require.NoError(t, l.Credit(ctx, "alice", 100))
	assert.ErrorIs(t, l.Credit(ctx, "alice", -1), domain.ErrInvalidParams)

	err := l.Transfer(ctx, "alice", "vault", 150)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, l.Transfer(ctx, "alice", "vault", 60))
	aliceBal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), aliceBal)
	vaultBal, err := l.Balance(ctx, "vault")
	require.NoError(t, err)
	assert.Equal(t, int64(60), vaultBal)

	// Zero transfers are no-ops, even between unknown accounts.
	require.NoError(t, l.Transfer(ctx, "ghost", "vault", 0))
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Ledger().Credit(ctx, "alice", 100))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx domain.TxStores) error {
		if err := tx.Markets.Create(ctx, testMarket("m1")); err != nil {
			return err
		}
		if err := tx.Collateral.Transfer(ctx, "alice", "vault", 100); err != nil {
			return err
		}
		if err := tx.Fills.Insert(ctx, domain.Fill{ID: "f1", MarketID: "m1"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Nothing from the failed transaction is visible.
	_, err = s.Markets().GetByID(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	bal, err := s.Ledger().Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	fills, err := s.Fills().ListByMarket(ctx, "m1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestWithinTxCommitsAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Ledger().Credit(ctx, "alice", 100))

	err := s.WithinTx(ctx, func(tx domain.TxStores) error {
		if err := tx.Markets.Create(ctx, testMarket("m1")); err != nil {
			return err
		}
		return tx.Collateral.Transfer(ctx, "alice", "vault", 100)
	})
	require.NoError(t, err)

	_, err = s.Markets().GetByID(ctx, "m1")
	require.NoError(t, err)
	bal, err := s.Ledger().Balance(ctx, "vault")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}

func TestFillPagination(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Fills().Insert(ctx, domain.Fill{
			ID:       string(rune('a' + i)),
			MarketID: "m1",
			User:     "bob",
		}))
	}

	page, err := s.Fills().ListByMarket(ctx, "m1", domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)

	// Offset past the end yields an empty page, not an error.
	page, err = s.Fills().ListByUser(ctx, "bob", domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestAuditLogOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	audit := s.Audit()

	require.NoError(t, audit.Log(ctx, "first", map[string]any{"n": 1}))
	require.NoError(t, audit.Log(ctx, "second", map[string]any{"n": 2}))

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "second", entries[0].Event)
	assert.Greater(t, entries[0].ID, entries[1].ID)
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)

	// A contended acquire blocks until the context ends.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(short, "market:m1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock() // releasing twice is safe

	unlock2, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)
	unlock2()

	// Independent keys do not contend.
	unlock3, err := lm.Acquire(ctx, "market:m2", time.Second)
	require.NoError(t, err)
	unlock3()
}
