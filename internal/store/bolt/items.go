package boltstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ItemStore implements domain.ItemStore.
type ItemStore struct {
	s *Store
}

func getItem(tx *bolt.Tx, id string) (domain.Item, error) {
	v := tx.Bucket(bucketItems).Get([]byte(id))
	if v == nil {
		return domain.Item{}, domain.ErrNotFound
	}
	var it domain.Item
	if err := json.Unmarshal(v, &it); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func putItem(tx *bolt.Tx, it domain.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketItems).Put([]byte(it.ID), data)
}

// Create inserts it unless the ID is taken.
func (st *ItemStore) Create(_ context.Context, it domain.Item) error {
	err := st.s.update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketItems).Get([]byte(it.ID)) != nil {
			return domain.ErrAlreadyExists
		}
		return putItem(tx, it)
	})
	return wrap("create item "+it.ID, err)
}

// GetByID returns the item or domain.ErrNotFound.
func (st *ItemStore) GetByID(_ context.Context, id string) (domain.Item, error) {
	var it domain.Item
	err := st.s.view(func(tx *bolt.Tx) error {
		var err error
		it, err = getItem(tx, id)
		return err
	})
	if err != nil {
		return domain.Item{}, wrap("get item "+id, err)
	}
	return it, nil
}

// Update compares versions and writes the next one.
func (st *ItemStore) Update(_ context.Context, it domain.Item) (domain.Item, error) {
	err := st.s.update(func(tx *bolt.Tx) error {
		cur, err := getItem(tx, it.ID)
		if err != nil {
			return err
		}
		if cur.Version != it.Version {
			return domain.ErrConflict
		}
		it.Version++
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = time.Now().UTC()
		}
		return putItem(tx, it)
	})
	if err != nil {
		return domain.Item{}, wrap("update item "+it.ID, err)
	}
	return it, nil
}

func (st *ItemStore) scan(match func(domain.Item) bool, less func(a, b domain.Item) bool, limit int) ([]domain.Item, error) {
	var out []domain.Item
	err := st.s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(_, v []byte) error {
			var it domain.Item
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			if match(it) {
				out = append(out, it)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDue returns active items that have reached their end time.
func (st *ItemStore) ListDue(_ context.Context, now time.Time, after domain.Cursor, limit int) ([]domain.Item, error) {
	items, err := st.scan(
		func(it domain.Item) bool {
			return it.Status == domain.ItemActive && !it.EndTime.After(now) && after.Precedes(it.EndTime, it.ID)
		},
		func(a, b domain.Item) bool { return byTimeThenID(a.EndTime, a.ID, b.EndTime, b.ID) },
		limit,
	)
	return items, wrap("list due items", err)
}

// ListPendingStart returns pending items whose start time has passed.
func (st *ItemStore) ListPendingStart(_ context.Context, now time.Time, after domain.Cursor, limit int) ([]domain.Item, error) {
	items, err := st.scan(
		func(it domain.Item) bool {
			return it.Status == domain.ItemPending && !it.StartTime.After(now) && after.Precedes(it.StartTime, it.ID)
		},
		func(a, b domain.Item) bool { return byTimeThenID(a.StartTime, a.ID, b.StartTime, b.ID) },
		limit,
	)
	return items, wrap("list pending items", err)
}

func byTimeThenID(at time.Time, aID string, bt time.Time, bID string) bool {
	if at.Equal(bt) {
		return aID < bID
	}
	return at.Before(bt)
}

var _ domain.ItemStore = (*ItemStore)(nil)
