package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const distributedPollInterval = 25 * time.Millisecond

// Distributed adapts a domain.LockManager (Redis SETNX) into a blocking
// KeyedLocker. The TTL bounds how long a crashed holder can keep an item.
type Distributed struct {
	manager domain.LockManager
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewDistributed wraps manager. Keys are namespaced with prefix.
func NewDistributed(manager domain.LockManager, prefix string, ttl, timeout time.Duration) *Distributed {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Distributed{manager: manager, prefix: prefix, ttl: ttl, timeout: timeout}
}

// Lock polls the manager until the lock is acquired or the timeout elapses.
func (d *Distributed) Lock(ctx context.Context, key string) (func(), error) {
	full := d.prefix + key
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for {
		unlock, err := d.manager.Acquire(ctx, full, d.ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("lock: %s: %w: %w", key, domain.ErrBusy, err)
		}

		timer := time.NewTimer(distributedPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock: %s: %w", key, domain.ErrBusy)
		case <-timer.C:
		}
	}
}

var _ domain.KeyedLocker = (*Distributed)(nil)
