package domain

import "time"

// FillKind distinguishes the operations that move collateral or shares.
type FillKind string

const (
	FillBuy    FillKind = "buy"
	FillSell   FillKind = "sell"
	FillSeed   FillKind = "seed"
	FillRedeem FillKind = "redeem"
)

// Fill is one executed operation against a market, recorded for history and
// settlement archival.
type Fill struct {
	ID           string   `json:"id"`
	MarketID     string   `json:"market_id"`
	User         string   `json:"user"`
	Kind         FillKind `json:"kind"`
	Side         Side     `json:"side,omitempty"` // empty for seed and redeem
	CollateralFP int64    `json:"collateral_fp"`
	SharesFP     int64    `json:"shares_fp"`
	FeeFP        int64    `json:"fee_fp"`
	// PriceHitMilli is the post-trade instantaneous Hit price, milli-scale.
	PriceHitMilli int64     `json:"price_hit_milli"`
	CreatedAt     time.Time `json:"created_at"`
}
