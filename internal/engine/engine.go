// Package engine implements the deterministic market state machine: seeding,
// buys, sells, resolution, expiry refunds, and redemption.
//
// Every function here is pure with respect to I/O: it mutates only the staged
// Market/Position values it is handed, reads no clock (the instant is an
// argument), and on any error leaves its inputs untouched. Callers stage
// copies, invoke the engine, and commit the copies atomically.
package engine

import (
	"fmt"
	"time"

	"github.com/btorressz/milestone-amm/internal/domain"
	"github.com/btorressz/milestone-amm/internal/fixedpoint"
)

// TradeResult reports the realised terms of a buy or sell.
type TradeResult struct {
	SharesFP      int64 // shares bought or sold
	CollateralFP  int64 // collateral paid in (buy) or paid out net of fee (sell)
	FeeFP         int64
	PriceHitMilli int64 // post-trade instantaneous Hit price
}

func overflow(err error) error {
	return fmt.Errorf("%w: %s", domain.ErrArithmeticOverflow, err)
}

// gate runs the checks shared by every mutating operation.
func gate(m *domain.Market) error {
	if m.Frozen {
		return fmt.Errorf("engine: market frozen: %w", domain.ErrSolvencyViolated)
	}
	if m.Paused {
		return domain.ErrMarketPaused
	}
	return nil
}

// maxLiabilityFP is the worst-case payout: every share of the heavier side
// redeeming at 1.
func maxLiabilityFP(m *domain.Market) int64 {
	if m.QHitFP > m.QMissFP {
		return m.QHitFP
	}
	return m.QMissFP
}

// checkSolvency verifies the invariant after a mutation. A failure here is
// a bug in the curve math, not a user error; callers freeze the market.
func checkSolvency(m *domain.Market) error {
	if m.CollateralFP < maxLiabilityFP(m) {
		return fmt.Errorf("engine: vault %d below liability %d: %w",
			m.CollateralFP, maxLiabilityFP(m), domain.ErrSolvencyViolated)
	}
	return nil
}

// priceHitMilli samples the current Hit price at wire scale.
func priceHitMilli(m *domain.Market) (int64, error) {
	curve, err := m.Curve()
	if err != nil {
		return 0, err
	}
	p, err := curve.PriceHit(m.QHitFP, m.QMissFP)
	if err != nil {
		return 0, overflow(err)
	}
	return fixedpoint.MulDiv(p, domain.PriceMilliScale, fixedpoint.Scale)
}

// Seed adds liquidity collateral to the vault. Only the market authority may
// seed, and only before the deadline.
func Seed(m *domain.Market, authority string, amountFP int64, now time.Time) error {
	if err := gate(m); err != nil {
		return err
	}
	if authority != m.Authority {
		return fmt.Errorf("engine: seed by %q: %w", authority, domain.ErrUnauthorized)
	}
	if amountFP <= 0 {
		return fmt.Errorf("%w: seed amount must be positive", domain.ErrInvalidParams)
	}
	switch m.PhaseAt(now) {
	case domain.PhaseSeeding, domain.PhaseActive:
	default:
		return fmt.Errorf("engine: seed in %s: %w", m.PhaseAt(now), domain.ErrPhaseViolation)
	}

	c, err := fixedpoint.Add(m.CollateralFP, amountFP)
	if err != nil {
		return overflow(err)
	}
	m.CollateralFP = c
	m.UpdatedAt = now
	return nil
}

// Buy spends collateralInFP on shares of one side. The fee is taken off the
// top, the remaining budget buys the maximal affordable share count, and any
// budget the bisection could not convert stays in the vault. Fails with
// SlippageExceeded when fewer than minSharesOutFP shares are affordable.
func Buy(m *domain.Market, pos *domain.Position, side domain.Side, collateralInFP, minSharesOutFP int64, now time.Time) (TradeResult, error) {
	if err := gate(m); err != nil {
		return TradeResult{}, err
	}
	if !side.Valid() {
		return TradeResult{}, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidParams, side)
	}
	if collateralInFP <= 0 || minSharesOutFP < 0 {
		return TradeResult{}, fmt.Errorf("%w: non-positive trade size", domain.ErrInvalidParams)
	}
	if phase := m.PhaseAt(now); phase != domain.PhaseActive {
		return TradeResult{}, fmt.Errorf("engine: buy in %s: %w", phase, domain.ErrPhaseViolation)
	}
	if collateralInFP > m.Params.MaxTradeFP {
		return TradeResult{}, fmt.Errorf("engine: trade size %d: %w", collateralInFP, domain.ErrCapExceeded)
	}

	fee, err := fixedpoint.MulDiv(collateralInFP, m.Params.FeeBps, domain.FeeBpsScale)
	if err != nil {
		return TradeResult{}, overflow(err)
	}
	budget := collateralInFP - fee

	room := m.Params.MaxPositionFP - pos.Shares(side)
	if room <= 0 {
		return TradeResult{}, fmt.Errorf("engine: position at cap: %w", domain.ErrCapExceeded)
	}

	curve, err := m.Curve()
	if err != nil {
		return TradeResult{}, err
	}
	shares, cost, err := curve.SharesForBudget(m.QHitFP, m.QMissFP, side == domain.SideHit, budget, room)
	if err != nil {
		return TradeResult{}, overflow(err)
	}
	if shares <= 0 || shares < minSharesOutFP {
		return TradeResult{}, fmt.Errorf("engine: %d shares affordable, %d required: %w",
			shares, minSharesOutFP, domain.ErrSlippageExceeded)
	}
	_ = cost // the buyer pays the full budget; the spread stays in the vault

	// Fee goes to the treasury when one is configured, otherwise it thickens
	// the vault.
	vaultIn := collateralInFP
	if m.Params.Treasury != "" {
		vaultIn = budget
	}

	staged := *m
	if side == domain.SideHit {
		staged.QHitFP, err = fixedpoint.Add(staged.QHitFP, shares)
	} else {
		staged.QMissFP, err = fixedpoint.Add(staged.QMissFP, shares)
	}
	if err != nil {
		return TradeResult{}, overflow(err)
	}
	staged.CollateralFP, err = fixedpoint.Add(staged.CollateralFP, vaultIn)
	if err != nil {
		return TradeResult{}, overflow(err)
	}
	if err := checkSolvency(&staged); err != nil {
		return TradeResult{}, err
	}

	price, err := priceHitMilli(&staged)
	if err != nil {
		return TradeResult{}, err
	}

	staged.UpdatedAt = now
	*m = staged
	pos.AddShares(side, shares)
	pos.MarketID = m.ID
	pos.UpdatedAt = now

	return TradeResult{
		SharesFP:      shares,
		CollateralFP:  collateralInFP,
		FeeFP:         fee,
		PriceHitMilli: price,
	}, nil
}

// Sell returns sharesInFP shares of one side to the curve. The fee comes out
// of the gross proceeds; fails with SlippageExceeded when the net payout is
// below minCollateralOutFP.
func Sell(m *domain.Market, pos *domain.Position, side domain.Side, sharesInFP, minCollateralOutFP int64, now time.Time) (TradeResult, error) {
	if err := gate(m); err != nil {
		return TradeResult{}, err
	}
	if !side.Valid() {
		return TradeResult{}, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidParams, side)
	}
	if sharesInFP <= 0 || minCollateralOutFP < 0 {
		return TradeResult{}, fmt.Errorf("%w: non-positive trade size", domain.ErrInvalidParams)
	}
	if phase := m.PhaseAt(now); phase != domain.PhaseActive {
		return TradeResult{}, fmt.Errorf("engine: sell in %s: %w", phase, domain.ErrPhaseViolation)
	}
	if pos.Shares(side) < sharesInFP {
		return TradeResult{}, fmt.Errorf("engine: own %d, selling %d: %w",
			pos.Shares(side), sharesInFP, domain.ErrInsufficientShares)
	}

	curve, err := m.Curve()
	if err != nil {
		return TradeResult{}, err
	}
	var dHit, dMiss int64
	if side == domain.SideHit {
		dHit = -sharesInFP
	} else {
		dMiss = -sharesInFP
	}
	dc, err := curve.DeltaCost(m.QHitFP, m.QMissFP, dHit, dMiss)
	if err != nil {
		return TradeResult{}, overflow(err)
	}
	gross := -dc
	if gross < 0 {
		gross = 0
	}
	if m.Params.CapSellProceeds && gross > m.Params.MaxTradeFP {
		return TradeResult{}, fmt.Errorf("engine: proceeds %d: %w", gross, domain.ErrCapExceeded)
	}

	fee, err := fixedpoint.MulDiv(gross, m.Params.FeeBps, domain.FeeBpsScale)
	if err != nil {
		return TradeResult{}, overflow(err)
	}
	net := gross - fee
	if net < minCollateralOutFP {
		return TradeResult{}, fmt.Errorf("engine: net payout %d below %d: %w",
			net, minCollateralOutFP, domain.ErrSlippageExceeded)
	}

	// Net always leaves the vault; the fee leaves too when a treasury is
	// configured.
	vaultOut := net
	if m.Params.Treasury != "" {
		vaultOut = gross
	}
	if vaultOut > m.CollateralFP {
		return TradeResult{}, fmt.Errorf("engine: vault %d cannot pay %d: %w",
			m.CollateralFP, vaultOut, domain.ErrSolvencyViolated)
	}

	staged := *m
	if side == domain.SideHit {
		staged.QHitFP -= sharesInFP
	} else {
		staged.QMissFP -= sharesInFP
	}
	staged.CollateralFP -= vaultOut
	if err := checkSolvency(&staged); err != nil {
		return TradeResult{}, err
	}

	price, err := priceHitMilli(&staged)
	if err != nil {
		return TradeResult{}, err
	}

	staged.UpdatedAt = now
	*m = staged
	pos.AddShares(side, -sharesInFP)
	pos.UpdatedAt = now

	return TradeResult{
		SharesFP:      sharesInFP,
		CollateralFP:  net,
		FeeFP:         fee,
		PriceHitMilli: price,
	}, nil
}

// Resolve records the milestone outcome. Legal only during the grace window
// and only for the authority or the configured oracle. The market is paused
// as a side effect; only redemption remains.
func Resolve(m *domain.Market, actor string, outcome domain.Outcome, now time.Time) error {
	if m.Frozen {
		return fmt.Errorf("engine: market frozen: %w", domain.ErrSolvencyViolated)
	}
	if actor != m.Authority && (m.Params.Oracle == "" || actor != m.Params.Oracle) {
		return fmt.Errorf("engine: resolve by %q: %w", actor, domain.ErrUnauthorized)
	}
	if outcome != domain.OutcomeHit && outcome != domain.OutcomeMiss {
		return fmt.Errorf("%w: outcome %q", domain.ErrInvalidParams, outcome)
	}
	if phase := m.PhaseAt(now); phase != domain.PhaseGrace {
		return fmt.Errorf("engine: resolve in %s: %w", phase, domain.ErrPhaseViolation)
	}

	m.Outcome = outcome
	m.ResolvedAt = &now
	m.Paused = true
	m.UpdatedAt = now
	return nil
}

// Redeem settles a position against a terminal market. Resolved markets pay
// winning shares 1:1; expired markets refund both sides at a uniform
// per-share rate capped at 1.0, floored in fixed point. The position is
// zeroed either way. A zero payout is a valid result, not an error.
func Redeem(m *domain.Market, pos *domain.Position, now time.Time) (int64, error) {
	if m.Frozen {
		return 0, fmt.Errorf("engine: market frozen: %w", domain.ErrSolvencyViolated)
	}

	var payout int64
	switch m.PhaseAt(now) {
	case domain.PhaseResolved:
		if m.Outcome == domain.OutcomeHit {
			payout = pos.HitSharesFP
		} else {
			payout = pos.MissSharesFP
		}
	case domain.PhaseExpired:
		total := m.QHitFP + m.QMissFP
		if total > 0 {
			rate, err := fixedpoint.MulDiv(m.CollateralFP, fixedpoint.Scale, total)
			if err != nil {
				return 0, overflow(err)
			}
			if rate > fixedpoint.Scale {
				rate = fixedpoint.Scale
			}
			payout, err = fixedpoint.MulDiv(pos.HitSharesFP+pos.MissSharesFP, rate, fixedpoint.Scale)
			if err != nil {
				return 0, overflow(err)
			}
		}
	default:
		return 0, fmt.Errorf("engine: redeem in %s: %w", m.PhaseAt(now), domain.ErrPhaseViolation)
	}

	if payout > m.CollateralFP {
		return 0, fmt.Errorf("engine: payout %d exceeds vault %d: %w",
			payout, m.CollateralFP, domain.ErrSolvencyViolated)
	}

	m.QHitFP -= pos.HitSharesFP
	m.QMissFP -= pos.MissSharesFP
	m.CollateralFP -= payout
	m.UpdatedAt = now
	pos.HitSharesFP = 0
	pos.MissSharesFP = 0
	pos.UpdatedAt = now
	return payout, nil
}

// SetPaused flips the pause switch. Authority only.
func SetPaused(m *domain.Market, actor string, paused bool, now time.Time) error {
	if m.Frozen {
		return fmt.Errorf("engine: market frozen: %w", domain.ErrSolvencyViolated)
	}
	if actor != m.Authority {
		return fmt.Errorf("engine: pause by %q: %w", actor, domain.ErrUnauthorized)
	}
	m.Paused = paused
	m.UpdatedAt = now
	return nil
}

// ParamUpdate is a partial admin update; nil fields are left unchanged.
type ParamUpdate struct {
	BFP             *int64
	FeeBps          *int64
	DeadlineTS      *int64
	GracePeriodSecs *int64
	MaxTradeFP      *int64
	MaxPositionFP   *int64
	CapSellProceeds *bool
	Treasury        *string
	Oracle          *string
}

// UpdateParams applies an admin update. The deadline may only move later,
// and the liquidity parameter may only change while the market is still
// seeding, since repricing the curve under open positions would invalidate
// the vault accounting.
func UpdateParams(m *domain.Market, actor string, upd ParamUpdate, now time.Time) error {
	if m.Frozen {
		return fmt.Errorf("engine: market frozen: %w", domain.ErrSolvencyViolated)
	}
	if actor != m.Authority {
		return fmt.Errorf("engine: update by %q: %w", actor, domain.ErrUnauthorized)
	}
	switch m.PhaseAt(now) {
	case domain.PhaseResolved, domain.PhaseExpired:
		return fmt.Errorf("engine: update in %s: %w", m.PhaseAt(now), domain.ErrPhaseViolation)
	}

	next := m.Params
	if upd.BFP != nil {
		if m.PhaseAt(now) != domain.PhaseSeeding {
			return fmt.Errorf("%w: b_fp is immutable once trading starts", domain.ErrInvalidParams)
		}
		next.BFP = *upd.BFP
	}
	if upd.FeeBps != nil {
		next.FeeBps = *upd.FeeBps
	}
	if upd.DeadlineTS != nil {
		if *upd.DeadlineTS < m.Params.DeadlineTS {
			return fmt.Errorf("%w: deadline may only be extended", domain.ErrInvalidParams)
		}
		next.DeadlineTS = *upd.DeadlineTS
	}
	if upd.GracePeriodSecs != nil {
		next.GracePeriodSecs = *upd.GracePeriodSecs
	}
	if upd.MaxTradeFP != nil {
		next.MaxTradeFP = *upd.MaxTradeFP
	}
	if upd.MaxPositionFP != nil {
		next.MaxPositionFP = *upd.MaxPositionFP
	}
	if upd.CapSellProceeds != nil {
		next.CapSellProceeds = *upd.CapSellProceeds
	}
	if upd.Treasury != nil {
		next.Treasury = *upd.Treasury
	}
	if upd.Oracle != nil {
		next.Oracle = *upd.Oracle
	}

	if err := next.Validate(now); err != nil {
		return err
	}
	m.Params = next
	m.UpdatedAt = now
	return nil
}
