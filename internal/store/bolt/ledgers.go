package boltstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// BidLedger implements domain.BidLedger. Each item owns a nested bucket keyed
// by a big-endian sequence, so a cursor walk yields placement order.
type BidLedger struct {
	s *Store
}

// Append adds bid to the end of its item's history.
func (l *BidLedger) Append(_ context.Context, bid domain.Bid) error {
	err := l.s.update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketBids).CreateBucketIfNotExists([]byte(bid.ItemID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(bid)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
	return wrap("append bid "+bid.ID, err)
}

// ListByItem returns the item's bids in placement order.
func (l *BidLedger) ListByItem(_ context.Context, itemID string) ([]domain.Bid, error) {
	var out []domain.Bid
	err := l.s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBids).Bucket([]byte(itemID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var bid domain.Bid
			if err := json.Unmarshal(v, &bid); err != nil {
				return err
			}
			out = append(out, bid)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list bids "+itemID, err)
	}
	return out, nil
}

// ListBidders returns distinct bidders in order of first bid.
func (l *BidLedger) ListBidders(ctx context.Context, itemID string) ([]string, error) {
	bids, err := l.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(bids))
	var out []string
	for _, b := range bids {
		if _, ok := seen[b.BidderID]; ok {
			continue
		}
		seen[b.BidderID] = struct{}{}
		out = append(out, b.BidderID)
	}
	return out, nil
}

// SaleLedger implements domain.SaleLedger, keyed by item ID.
type SaleLedger struct {
	s *Store
}

func getSale(tx *bolt.Tx, itemID string) (domain.SaleOutcome, error) {
	v := tx.Bucket(bucketSales).Get([]byte(itemID))
	if v == nil {
		return domain.SaleOutcome{}, domain.ErrNotFound
	}
	var o domain.SaleOutcome
	err := json.Unmarshal(v, &o)
	return o, err
}

func putSale(tx *bolt.Tx, o domain.SaleOutcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSales).Put([]byte(o.ItemID), data)
}

func (l *SaleLedger) Record(_ context.Context, o domain.SaleOutcome) error {
	err := l.s.update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSales).Get([]byte(o.ItemID)) != nil {
			return domain.ErrAlreadyExists
		}
		return putSale(tx, o)
	})
	return wrap("record sale "+o.ItemID, err)
}

func (l *SaleLedger) GetByItem(_ context.Context, itemID string) (domain.SaleOutcome, error) {
	var o domain.SaleOutcome
	err := l.s.view(func(tx *bolt.Tx) error {
		var err error
		o, err = getSale(tx, itemID)
		return err
	})
	if err != nil {
		return domain.SaleOutcome{}, wrap("get sale "+itemID, err)
	}
	return o, nil
}

// ListUnarchived returns outcomes without an archive timestamp, oldest close
// first.
func (l *SaleLedger) ListUnarchived(_ context.Context, limit int) ([]domain.SaleOutcome, error) {
	var out []domain.SaleOutcome
	err := l.s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSales).ForEach(func(_, v []byte) error {
			var o domain.SaleOutcome
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.ArchivedAt == nil {
				out = append(out, o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list unarchived sales", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *SaleLedger) MarkArchived(_ context.Context, itemID string, at time.Time) error {
	err := l.s.update(func(tx *bolt.Tx) error {
		o, err := getSale(tx, itemID)
		if err != nil {
			return err
		}
		o.ArchivedAt = &at
		return putSale(tx, o)
	})
	return wrap("mark archived "+itemID, err)
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	s *Store
}

type auditRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	err := a.s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(auditRecord{
			ID:        int64(seq),
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
	return wrap("audit "+event, err)
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	skipped := 0
	err := a.s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r auditRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !inRange(r.CreatedAt, opts) {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
			out = append(out, domain.AuditEntry{
				ID: r.ID, Event: r.Event, Detail: r.Detail, CreatedAt: r.CreatedAt,
			})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list audit", err)
	}
	return out, nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

var (
	_ domain.BidLedger  = (*BidLedger)(nil)
	_ domain.SaleLedger = (*SaleLedger)(nil)
	_ domain.AuditStore = (*AuditStore)(nil)
)
