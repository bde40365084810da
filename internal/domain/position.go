package domain

import "time"

// Position tracks one user's share balances in one market. A missing row is
// equivalent to a zero-value position; stores return the zero value rather
// than ErrNotFound for absent (market, user) pairs.
type Position struct {
	MarketID     string    `json:"market_id"`
	User         string    `json:"user"`
	HitSharesFP  int64     `json:"hit_shares_fp"`
	MissSharesFP int64     `json:"miss_shares_fp"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Shares returns the balance for the given side.
func (p Position) Shares(side Side) int64 {
	if side == SideHit {
		return p.HitSharesFP
	}
	return p.MissSharesFP
}

// AddShares adjusts the balance for the given side by delta.
func (p *Position) AddShares(side Side, delta int64) {
	if side == SideHit {
		p.HitSharesFP += delta
	} else {
		p.MissSharesFP += delta
	}
}

// IsEmpty reports whether both sides are zero.
func (p Position) IsEmpty() bool {
	return p.HitSharesFP == 0 && p.MissSharesFP == 0
}
