package boltstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Outbox implements domain.NotificationOutbox.
type Outbox struct {
	s *Store
}

func getNotification(tx *bolt.Tx, id string) (domain.Notification, error) {
	v := tx.Bucket(bucketOutbox).Get([]byte(id))
	if v == nil {
		return domain.Notification{}, domain.ErrNotFound
	}
	var n domain.Notification
	err := json.Unmarshal(v, &n)
	return n, err
}

func putNotification(tx *bolt.Tx, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketOutbox).Put([]byte(n.ID), data)
}

func (o *Outbox) Enqueue(_ context.Context, notifications ...domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	err := o.s.update(func(tx *bolt.Tx) error {
		for _, n := range notifications {
			if err := putNotification(tx, n); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("enqueue notifications", err)
}

func (o *Outbox) all(match func(domain.Notification) bool) ([]domain.Notification, error) {
	var out []domain.Notification
	err := o.s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(_, v []byte) error {
			var n domain.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if match(n) {
				out = append(out, n)
			}
			return nil
		})
	})
	return out, err
}

func (o *Outbox) ListPending(_ context.Context, limit, maxAttempts int) ([]domain.Notification, error) {
	out, err := o.all(func(n domain.Notification) bool {
		return n.DispatchedAt == nil && (maxAttempts <= 0 || n.Attempts < maxAttempts)
	})
	if err != nil {
		return nil, wrap("list pending notifications", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *Outbox) MarkDispatched(_ context.Context, id string, at time.Time) error {
	err := o.s.update(func(tx *bolt.Tx) error {
		n, err := getNotification(tx, id)
		if err != nil {
			return err
		}
		n.DispatchedAt = &at
		n.LastError = ""
		return putNotification(tx, n)
	})
	return wrap("mark dispatched "+id, err)
}

func (o *Outbox) MarkFailed(_ context.Context, id string, reason string) error {
	err := o.s.update(func(tx *bolt.Tx) error {
		n, err := getNotification(tx, id)
		if err != nil {
			return err
		}
		n.Attempts++
		n.LastError = reason
		return putNotification(tx, n)
	})
	return wrap("mark failed "+id, err)
}

// ListByUser returns a user's notifications newest first.
func (o *Outbox) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Notification, error) {
	out, err := o.all(func(n domain.Notification) bool {
		return n.UserID == userID && inRange(n.CreatedAt, opts)
	})
	if err != nil {
		return nil, wrap("list notifications "+userID, err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.NotificationOutbox = (*Outbox)(nil)
