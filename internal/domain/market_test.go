package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/milestone-amm/internal/fixedpoint"
)

func validParams(now time.Time) MarketParams {
	return MarketParams{
		BFP:             200_000,
		FeeBps:          50,
		DeadlineTS:      now.Add(24 * time.Hour).Unix(),
		GracePeriodSecs: 3600,
		MaxTradeFP:      1_000 * fixedpoint.Scale,
		MaxPositionFP:   10_000 * fixedpoint.Scale,
	}
}

func TestDeriveMarketID(t *testing.T) {
	a := DeriveMarketID("alice", "milestone-1")
	b := DeriveMarketID("alice", "milestone-1")
	assert.Equal(t, a, b, "derivation is deterministic")
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, DeriveMarketID("alice", "milestone-2"))
	assert.NotEqual(t, a, DeriveMarketID("bob", "milestone-1"))
	// The separator prevents boundary ambiguity.
	assert.NotEqual(t, DeriveMarketID("ab", "c"), DeriveMarketID("a", "bc"))
}

func TestParamsValidate(t *testing.T) {
	now := time.Now()

	require.NoError(t, validParams(now).Validate(now))

	p := validParams(now)
	p.BFP = 1
	assert.ErrorIs(t, p.Validate(now), ErrInvalidParams)

	p = validParams(now)
	p.FeeBps = 10_001
	assert.ErrorIs(t, p.Validate(now), ErrInvalidParams)

	p = validParams(now)
	p.DeadlineTS = now.Unix()
	assert.ErrorIs(t, p.Validate(now), ErrInvalidParams)

	p = validParams(now)
	p.MaxTradeFP = 0
	assert.ErrorIs(t, p.Validate(now), ErrInvalidParams)
}

func TestPhaseAt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := Market{
		Outcome: OutcomeUnresolved,
		Params: MarketParams{
			BFP:             200_000,
			DeadlineTS:      now.Add(time.Hour).Unix(),
			GracePeriodSecs: 600,
		},
	}

	assert.Equal(t, PhaseSeeding, m.PhaseAt(now), "unfunded market is still seeding")

	m.CollateralFP = m.MinSeedFP()
	assert.Equal(t, PhaseActive, m.PhaseAt(now))

	assert.Equal(t, PhaseGrace, m.PhaseAt(now.Add(time.Hour)))
	assert.Equal(t, PhaseGrace, m.PhaseAt(now.Add(time.Hour+599*time.Second)))
	assert.Equal(t, PhaseExpired, m.PhaseAt(now.Add(time.Hour+600*time.Second)))

	m.Outcome = OutcomeHit
	assert.Equal(t, PhaseResolved, m.PhaseAt(now), "resolution is sticky")
}

func TestMinSeedFP(t *testing.T) {
	m := Market{Params: MarketParams{BFP: 200_000}}
	// 0.2 * ln(2) = 0.13863, floored at 1e6 scale.
	assert.Equal(t, int64(138_629), m.MinSeedFP())
}
