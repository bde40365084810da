// Package lmsr implements the logarithmic market scoring rule over a binary
// outcome pair in deterministic fixed-point arithmetic.
//
// Cost(q_hit, q_miss) = b * ln(e^(q_hit/b) + e^(q_miss/b)), evaluated in the
// log-sum-exp stabilised form max(q) + b*ln(1 + e^(-|q_hit-q_miss|/b)) so the
// exponent is never positive and never overflows.
package lmsr

import (
	"errors"
	"fmt"

	"github.com/btorressz/milestone-amm/internal/fixedpoint"
)

const (
	// MinB and MaxB bound the liquidity parameter (fixed-point units).
	MinB int64 = 10_000
	MaxB int64 = 1_000_000_000_000

	// maxBisectIters bounds the bisection refinement of the share solver.
	maxBisectIters = 60

	// maxDoublings bounds the exponential search for the solver's upper
	// bracket.
	maxDoublings = 20
)

// ErrBadLiquidity is returned by New for a b outside [MinB, MaxB].
var ErrBadLiquidity = errors.New("lmsr: liquidity parameter out of range")

// Curve is an LMSR cost curve with a fixed liquidity parameter b.
type Curve struct {
	b int64
}

// New validates b and returns the curve.
func New(b int64) (Curve, error) {
	if b < MinB || b > MaxB {
		return Curve{}, fmt.Errorf("%w: %d", ErrBadLiquidity, b)
	}
	return Curve{b: b}, nil
}

// B returns the liquidity parameter.
func (c Curve) B() int64 { return c.b }

// MaxLoss returns b*ln(2), the market maker's worst-case subsidy and the
// curve's cost at the zero-share state.
func (c Curve) MaxLoss() int64 {
	v, err := fixedpoint.MulDiv(c.b, fixedpoint.Ln2, fixedpoint.Scale)
	if err != nil {
		// b <= 1e12 and Ln2 < 1e6, the product fits.
		panic(err)
	}
	return v
}

// Cost evaluates the cost function at the given share quantities.
func (c Curve) Cost(qHit, qMiss int64) (int64, error) {
	hi, lo := qHit, qMiss
	if lo > hi {
		hi, lo = lo, hi
	}
	d, err := fixedpoint.Sub(hi, lo)
	if err != nil {
		return 0, err
	}

	// z = e^(-d/b). When d/b overflows int64 the true exponent is far below
	// the underflow cutoff, so z is exactly zero.
	var z int64
	if arg, derr := fixedpoint.Div(d, c.b); derr == nil {
		z, err = fixedpoint.Exp(-arg)
		if err != nil {
			return 0, err
		}
	}

	lnS, err := fixedpoint.Ln(fixedpoint.One + z)
	if err != nil {
		return 0, err
	}
	tail, err := fixedpoint.Mul(c.b, lnS)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Add(hi, tail)
}

// DeltaCost returns Cost(qHit+dHit, qMiss+dMiss) - Cost(qHit, qMiss).
// Positive for buys, negative for sells.
func (c Curve) DeltaCost(qHit, qMiss, dHit, dMiss int64) (int64, error) {
	nh, err := fixedpoint.Add(qHit, dHit)
	if err != nil {
		return 0, err
	}
	nm, err := fixedpoint.Add(qMiss, dMiss)
	if err != nil {
		return 0, err
	}
	after, err := c.Cost(nh, nm)
	if err != nil {
		return 0, err
	}
	before, err := c.Cost(qHit, qMiss)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Sub(after, before)
}

// PriceHit returns the instantaneous Hit price, the softmax derivative of
// the cost function. The result is clamped to [1, Scale-1] so reported
// prices stay strictly inside (0, 1) even when the far tail underflows.
func (c Curve) PriceHit(qHit, qMiss int64) (int64, error) {
	zh, zm := fixedpoint.One, fixedpoint.One
	if qHit >= qMiss {
		var err error
		zm, err = c.tailExp(qHit - qMiss)
		if err != nil {
			return 0, err
		}
	} else {
		var err error
		zh, err = c.tailExp(qMiss - qHit)
		if err != nil {
			return 0, err
		}
	}

	p, err := fixedpoint.MulDiv(zh, fixedpoint.Scale, zh+zm)
	if err != nil {
		return 0, err
	}
	if p < 1 {
		p = 1
	}
	if p > fixedpoint.Scale-1 {
		p = fixedpoint.Scale - 1
	}
	return p, nil
}

// PriceMiss returns Scale - PriceHit.
func (c Curve) PriceMiss(qHit, qMiss int64) (int64, error) {
	p, err := c.PriceHit(qHit, qMiss)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Scale - p, nil
}

// tailExp computes e^(-d/b) for d >= 0, treating an overflowing exponent as
// exact underflow to zero.
func (c Curve) tailExp(d int64) (int64, error) {
	arg, err := fixedpoint.Div(d, c.b)
	if err != nil {
		return 0, nil
	}
	return fixedpoint.Exp(-arg)
}

// SharesForBudget returns the largest share delta on one side whose
// DeltaCost does not exceed budget, along with that cost. maxDelta caps the
// search (position caps, remaining headroom). The bracket grows by doubling
// from the budget itself (cost per share never exceeds 1, so budget is
// always affordable as a share count lower bound) and bisection then runs a
// fixed number of iterations, keeping the result deterministic.
func (c Curve) SharesForBudget(qHit, qMiss int64, onHit bool, budget, maxDelta int64) (int64, int64, error) {
	if budget <= 0 || maxDelta <= 0 {
		return 0, 0, nil
	}

	costOf := func(delta int64) (int64, bool) {
		var dh, dm int64
		if onHit {
			dh = delta
		} else {
			dm = delta
		}
		dc, err := c.DeltaCost(qHit, qMiss, dh, dm)
		if err != nil {
			// Overflow this far out means the delta is unaffordable.
			return 0, false
		}
		return dc, true
	}

	hi := budget
	if hi > maxDelta {
		hi = maxDelta
	}
	for i := 0; i < maxDoublings && hi < maxDelta; i++ {
		dc, ok := costOf(hi)
		if !ok || dc >= budget {
			break
		}
		if hi > maxDelta/2 {
			hi = maxDelta
		} else {
			hi *= 2
		}
	}

	var lo, loCost int64
	for i := 0; i < maxBisectIters; i++ {
		mid := lo + (hi-lo)/2
		if mid == lo {
			break
		}
		if dc, ok := costOf(mid); ok && dc <= budget {
			lo, loCost = mid, dc
		} else {
			hi = mid
		}
	}

	// The bracket top itself may be affordable (budget >= cost(maxDelta)).
	if dc, ok := costOf(hi); ok && dc <= budget {
		lo, loCost = hi, dc
	}
	return lo, loCost, nil
}
