package domain

import (
	"context"
	"time"
)

// PricePoint is a cached instantaneous price sample.
type PricePoint struct {
	HitMilli  int64     `json:"hit_milli"`
	MissMilli int64     `json:"miss_milli"`
	Ts        time.Time `json:"ts"`
}

// PriceCache provides fast access to the latest per-market prices without
// loading market state.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, p PricePoint) error
	GetPrice(ctx context.Context, marketID string) (PricePoint, error)
	Invalidate(ctx context.Context, marketID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides the per-market mutation lock. Every mutating
// operation on a market runs under its lock, which is what makes the
// single-writer model hold across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for trade and lifecycle
// events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
