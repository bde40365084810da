package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// releaseLua deletes the lock key only when it still carries the caller's
// token, so a holder whose TTL lapsed cannot release a lock someone else has
// since acquired.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager enforces the single-writer-per-market rule across processes:
// SETNX with a TTL to acquire, token-guarded Lua to release. The TTL bounds
// how long a crashed holder can block a market.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager on the shared client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

func redisLockKey(key string) string {
	return "amm:lock:" + key
}

// Acquire takes the lock for key or fails fast with domain.ErrLockHeld. The
// returned release function is idempotent and runs on a background context
// so a cancelled request still releases its lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := redisLockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(relCtx, lm.rdb, []string{lk}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
