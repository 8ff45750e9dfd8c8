package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const defaultItemTTL = 5 * time.Minute

// ItemCache implements domain.ItemCache. Snapshots live in a hash at
// item:{id} under the field "data" and expire after the TTL.
type ItemCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewItemCache creates an ItemCache. A non-positive ttl uses five minutes.
func NewItemCache(c *Client, ttl time.Duration) *ItemCache {
	if ttl <= 0 {
		ttl = defaultItemTTL
	}
	return &ItemCache{rdb: c.Underlying(), ttl: ttl}
}

func itemKey(id string) string { return "item:" + id }

// Set stores a snapshot of it.
func (ic *ItemCache) Set(ctx context.Context, it domain.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("redis: marshal item %s: %w", it.ID, err)
	}
	key := itemKey(it.ID)
	pipe := ic.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, ic.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set item %s: %w", it.ID, err)
	}
	return nil
}

// Get returns the snapshot or domain.ErrNotFound.
func (ic *ItemCache) Get(ctx context.Context, id string) (domain.Item, error) {
	data, err := ic.rdb.HGet(ctx, itemKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("redis: get item %s: %w", id, err)
	}
	var it domain.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return domain.Item{}, fmt.Errorf("redis: unmarshal item %s: %w", id, err)
	}
	return it, nil
}

// Invalidate drops the snapshot.
func (ic *ItemCache) Invalidate(ctx context.Context, id string) error {
	if err := ic.rdb.Del(ctx, itemKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate item %s: %w", id, err)
	}
	return nil
}

var _ domain.ItemCache = (*ItemCache)(nil)
