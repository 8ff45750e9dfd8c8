// Package lock provides the per-item serialization point used by bid
// placement and closing: an in-process keyed lock and a Redis-backed one for
// multi-instance deployments.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// Keyed is an in-process lock with one slot per key. Slots are created on
// demand and dropped once no caller holds or waits on them, so memory tracks
// the number of items currently in contention.
type Keyed struct {
	timeout time.Duration
	mu      sync.Mutex
	slots   map[string]*slot
}

// NewKeyed returns a Keyed lock whose Lock gives up after timeout.
func NewKeyed(timeout time.Duration) *Keyed {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Keyed{timeout: timeout, slots: make(map[string]*slot)}
}

func (k *Keyed) acquireSlot(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) releaseSlot(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Lock blocks until key is free, the timeout elapses or ctx is done. The
// latter two return domain.ErrBusy.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	s := k.acquireSlot(key)

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		k.releaseSlot(key, s)
		return nil, fmt.Errorf("lock: %s: %w", key, domain.ErrBusy)
	case <-ctx.Done():
		k.releaseSlot(key, s)
		return nil, fmt.Errorf("lock: %s: %w: %w", key, domain.ErrBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.releaseSlot(key, s)
		})
	}, nil
}

// Len reports how many keys currently have a slot.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

var _ domain.KeyedLocker = (*Keyed)(nil)
