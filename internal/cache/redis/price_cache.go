package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// latest price point lives at "price:{marketID}" with fields "hit", "miss",
// and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries until the next trade overwrites them.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// SetPrice stores the latest price point for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID string, p domain.PricePoint) error {
	key := priceKey(marketID)
	fields := map[string]any{
		"hit":  strconv.FormatInt(p.HitMilli, 10),
		"miss": strconv.FormatInt(p.MissMilli, 10),
		"ts":   strconv.FormatInt(p.Ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

// GetPrice retrieves the latest price point for a market. It returns
// domain.ErrNotFound when no entry exists.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}

	var p domain.PricePoint
	p.HitMilli, err = strconv.ParseInt(vals["hit"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse hit price %s: %w", marketID, err)
	}
	p.MissMilli, err = strconv.ParseInt(vals["miss"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse miss price %s: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse price ts %s: %w", marketID, err)
	}
	p.Ts = time.Unix(0, tsNano)
	return p, nil
}

// Invalidate drops the cached price point for a market.
func (pc *PriceCache) Invalidate(ctx context.Context, marketID string) error {
	if err := pc.rdb.Del(ctx, priceKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate price %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
