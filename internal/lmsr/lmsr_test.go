package lmsr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/milestone-amm/internal/fixedpoint"
)

const fp = fixedpoint.Scale

func mustCurve(t *testing.T, b int64) Curve {
	t.Helper()
	c, err := New(b)
	require.NoError(t, err)
	return c
}

func TestNewValidatesB(t *testing.T) {
	_, err := New(MinB - 1)
	assert.ErrorIs(t, err, ErrBadLiquidity)
	_, err = New(MaxB + 1)
	assert.ErrorIs(t, err, ErrBadLiquidity)
	_, err = New(MinB)
	assert.NoError(t, err)
}

func TestCostAtOrigin(t *testing.T) {
	// C(0,0) = b*ln(2), the worst-case subsidy.
	c := mustCurve(t, 200_000) // b = 0.2
	cost, err := c.Cost(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.2*math.Ln2, fixedpoint.ToFloat(cost), 1e-4)
	assert.Equal(t, c.MaxLoss(), cost)
}

func TestCostMatchesReference(t *testing.T) {
	c := mustCurve(t, 5*fp) // b = 5
	ref := func(qh, qm float64) float64 {
		return 5 * math.Log(math.Exp(qh/5)+math.Exp(qm/5))
	}
	cases := [][2]int64{
		{0, 0}, {fp, 0}, {0, 3 * fp}, {10 * fp, 10 * fp}, {25 * fp, 3 * fp},
	}
	for _, q := range cases {
		got, err := c.Cost(q[0], q[1])
		require.NoError(t, err)
		want := ref(fixedpoint.ToFloat(q[0]), fixedpoint.ToFloat(q[1]))
		assert.InDelta(t, want, fixedpoint.ToFloat(got), 1e-3, "q=%v", q)
	}
}

func TestCostStableFarFromBalance(t *testing.T) {
	// Deep imbalance: the naive form would overflow e^(q/b); the
	// stabilised form degrades to max(q) exactly.
	c := mustCurve(t, 200_000)
	cost, err := c.Cost(1_000_000*fp, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000*fp), cost)
}

func TestCostSymmetric(t *testing.T) {
	c := mustCurve(t, 3*fp)
	a, err := c.Cost(7*fp, 2*fp)
	require.NoError(t, err)
	b, err := c.Cost(2*fp, 7*fp)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeltaCostMonotone(t *testing.T) {
	c := mustCurve(t, 2*fp)
	var prev int64
	for i := int64(1); i <= 10; i++ {
		dc, err := c.DeltaCost(5*fp, 5*fp, i*fp, 0)
		require.NoError(t, err)
		assert.Greater(t, dc, prev, "cost increases with delta")
		assert.Less(t, dc, i*fp, "never pays more than 1 per share")
		prev = dc
	}
}

func TestPriceBounds(t *testing.T) {
	c := mustCurve(t, 200_000)

	p, err := c.PriceHit(0, 0)
	require.NoError(t, err)
	assert.Equal(t, fp/2, p, "balanced book prices at exactly 0.5")

	// Extreme imbalance stays strictly inside (0,1).
	p, err = c.PriceHit(1_000_000*fp, 0)
	require.NoError(t, err)
	assert.Less(t, p, fp)
	assert.Greater(t, p, int64(0))

	p, err = c.PriceHit(0, 1_000_000*fp)
	require.NoError(t, err)
	assert.Greater(t, p, int64(0))
	assert.Less(t, p, fp)
}

func TestPriceComplements(t *testing.T) {
	c := mustCurve(t, 5*fp)
	ph, err := c.PriceHit(12*fp, 3*fp)
	require.NoError(t, err)
	pm, err := c.PriceMiss(12*fp, 3*fp)
	require.NoError(t, err)
	assert.Equal(t, int64(fp), ph+pm)
	assert.Greater(t, ph, fp/2, "hit-heavy book prices hit above 0.5")
}

func TestSharesForBudgetRespectsBudget(t *testing.T) {
	c := mustCurve(t, 200_000)
	budget := int64(99_500_000) // 99.5 units
	shares, cost, err := c.SharesForBudget(0, 0, true, budget, math.MaxInt64/2)
	require.NoError(t, err)
	assert.Greater(t, shares, int64(0))
	assert.LessOrEqual(t, cost, budget)
	// b = 0.2 saturates fast: cost(delta) ~= delta - b*ln2, so the solver
	// should find roughly budget + 0.1386 shares.
	assert.InDelta(t, 99.638, fixedpoint.ToFloat(shares), 0.01)

	// One more fixed-point share must not be affordable.
	dc, err := c.DeltaCost(0, 0, shares+2, 0)
	require.NoError(t, err)
	assert.Greater(t, dc, budget)
}

func TestSharesForBudgetHonorsCap(t *testing.T) {
	c := mustCurve(t, 2*fp)
	shares, cost, err := c.SharesForBudget(0, 0, true, 50*fp, 10*fp)
	require.NoError(t, err)
	assert.Equal(t, int64(10*fp), shares, "cap binds before budget")
	assert.LessOrEqual(t, cost, int64(50*fp))
}

func TestSharesForBudgetZeroBudget(t *testing.T) {
	c := mustCurve(t, 2*fp)
	shares, cost, err := c.SharesForBudget(0, 0, true, 0, fp)
	require.NoError(t, err)
	assert.Zero(t, shares)
	assert.Zero(t, cost)
}

func TestBuySellRoundTripNeverProfits(t *testing.T) {
	c := mustCurve(t, 3*fp)
	buyCost, err := c.DeltaCost(4*fp, 9*fp, 2*fp, 0)
	require.NoError(t, err)
	sellProceeds, err := c.DeltaCost(6*fp, 9*fp, -2*fp, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, -sellProceeds, buyCost, "round trip cannot mint value")
}
