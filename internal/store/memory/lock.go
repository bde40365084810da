package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btorressz/milestone-amm/internal/domain"
)

// LockManager is a process-local domain.LockManager for ephemeral mode.
// The ttl argument is ignored; locks live until released.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]chan struct{})}
}

// Acquire blocks until the key's lock is free or the context ends.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		lm.mu.Lock()
		holder, held := lm.locks[key]
		if !held {
			ch := make(chan struct{})
			lm.locks[key] = ch
			lm.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					lm.mu.Lock()
					delete(lm.locks, key)
					lm.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		lm.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("memory: acquire %s: %w", key, domain.ErrLockHeld)
		case <-holder:
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
