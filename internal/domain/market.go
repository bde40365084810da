package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btorressz/milestone-amm/internal/fixedpoint"
	"github.com/btorressz/milestone-amm/internal/lmsr"
)

// FeeBpsScale is the basis-point denominator for fee math.
const FeeBpsScale int64 = 10_000

// PriceMilliScale is the scale prices are reported at on the wire (0.5 == 500).
const PriceMilliScale int64 = 1_000

// Side identifies one leg of the binary outcome pair.
type Side string

const (
	SideHit  Side = "hit"
	SideMiss Side = "miss"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideHit || s == SideMiss }

// Outcome is the resolution state of a market.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeHit        Outcome = "hit"
	OutcomeMiss       Outcome = "miss"
)

// Phase is the derived lifecycle phase of a market at a point in time.
type Phase string

const (
	PhaseSeeding  Phase = "seeding"
	PhaseActive   Phase = "active"
	PhaseGrace    Phase = "grace"
	PhaseResolved Phase = "resolved"
	PhaseExpired  Phase = "expired"
)

// MarketParams are the operator-tunable parameters of a market.
type MarketParams struct {
	BFP             int64  `json:"b_fp"`              // LMSR liquidity parameter, fixed point
	FeeBps          int64  `json:"fee_bps"`           // trading fee in basis points
	DeadlineTS      int64  `json:"deadline_ts"`       // unix seconds; trading stops here
	GracePeriodSecs int64  `json:"grace_period_secs"` // resolution window after the deadline
	MaxTradeFP      int64  `json:"max_trade_fp"`      // per-trade collateral cap
	MaxPositionFP   int64  `json:"max_position_fp"`   // per-user per-side share cap
	CapSellProceeds bool   `json:"cap_sell_proceeds"` // apply MaxTradeFP to sell proceeds as well
	Treasury        string `json:"treasury,omitempty"`
	Oracle          string `json:"oracle,omitempty"`
}

// Market is the full persistent state of one milestone market.
type Market struct {
	ID          string       `json:"id"`
	Creator     string       `json:"creator"`
	MilestoneID string       `json:"milestone_id"`
	Authority   string       `json:"authority"`
	Params      MarketParams `json:"params"`

	QHitFP       int64 `json:"q_hit_fp"`
	QMissFP      int64 `json:"q_miss_fp"`
	CollateralFP int64 `json:"collateral_fp"` // vault balance mirror; authoritative for solvency

	Outcome    Outcome    `json:"outcome"`
	Paused     bool       `json:"paused"`
	Frozen     bool       `json:"frozen"` // set on a solvency check failure, never cleared
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveMarketID returns the content-derived identifier for a market:
// hex(sha256(creator || 0x00 || milestoneID)). The NUL separator keeps
// distinct (creator, milestone) pairs from colliding on concatenation.
func DeriveMarketID(creator, milestoneID string) string {
	h := sha256.New()
	h.Write([]byte(creator))
	h.Write([]byte{0})
	h.Write([]byte(milestoneID))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the parameter constraints enforced at init and on admin
// updates. now is the caller-supplied current time.
func (p MarketParams) Validate(now time.Time) error {
	if p.BFP < lmsr.MinB || p.BFP > lmsr.MaxB {
		return fmt.Errorf("%w: b_fp %d outside [%d, %d]", ErrInvalidParams, p.BFP, lmsr.MinB, lmsr.MaxB)
	}
	if p.FeeBps < 0 || p.FeeBps > FeeBpsScale {
		return fmt.Errorf("%w: fee_bps %d outside [0, %d]", ErrInvalidParams, p.FeeBps, FeeBpsScale)
	}
	if p.DeadlineTS <= now.Unix() {
		return fmt.Errorf("%w: deadline %d not in the future", ErrInvalidParams, p.DeadlineTS)
	}
	if p.GracePeriodSecs < 0 {
		return fmt.Errorf("%w: negative grace period", ErrInvalidParams)
	}
	if p.MaxTradeFP <= 0 {
		return fmt.Errorf("%w: max_trade_fp must be positive", ErrInvalidParams)
	}
	if p.MaxPositionFP <= 0 {
		return fmt.Errorf("%w: max_position_fp must be positive", ErrInvalidParams)
	}
	return nil
}

// MinSeedFP returns the collateral required before trading may start:
// b*ln(2), the LMSR worst-case subsidy. A vault at or above this level
// keeps the solvency invariant for every reachable trade sequence.
func (m Market) MinSeedFP() int64 {
	v, err := fixedpoint.MulDiv(m.Params.BFP, fixedpoint.Ln2, fixedpoint.Scale)
	if err != nil {
		return fixedpoint.Scale // unreachable for a validated b
	}
	return v
}

// PhaseAt derives the lifecycle phase at the given instant. Resolution is
// sticky; everything else follows the deadline and the seed level.
func (m Market) PhaseAt(now time.Time) Phase {
	if m.Outcome != OutcomeUnresolved {
		return PhaseResolved
	}
	ts := now.Unix()
	graceEnd := m.Params.DeadlineTS + m.Params.GracePeriodSecs
	switch {
	case ts >= graceEnd:
		return PhaseExpired
	case ts >= m.Params.DeadlineTS:
		return PhaseGrace
	case m.CollateralFP >= m.MinSeedFP():
		return PhaseActive
	default:
		return PhaseSeeding
	}
}

// Curve returns the market's LMSR curve.
func (m Market) Curve() (lmsr.Curve, error) {
	return lmsr.New(m.Params.BFP)
}

// VaultAccount is the collateral-ledger account holding this market's vault.
func (m Market) VaultAccount() string {
	return "vault:" + m.ID
}
