package domain

import (
	"context"
	"time"
)

// ItemCache holds read-only item snapshots for display paths. It is never
// consulted when resolving a bid.
type ItemCache interface {
	Set(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// KeyedLocker serializes work per key. Lock returns ErrBusy when the key
// cannot be acquired before the locker's timeout or ctx expires.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
