// Package boltstore implements the domain store interfaces on an embedded
// BoltDB file. Bolt allows a single writer at a time, which gives InTx
// serializable semantics without any extra locking.
package boltstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

var (
	bucketItems  = []byte("items")
	bucketBids   = []byte("bids")
	bucketSales  = []byte("sales")
	bucketOutbox = []byte("outbox")
	bucketAudit  = []byte("audit")
)

// Store is a domain.Store backed by BoltDB. A Store returned by InTx is bound
// to that transaction and must not be used after fn returns.
type Store struct {
	db *bolt.DB
	tx *bolt.Tx
}

// Open opens (or creates) the database at path, creating its directory, and
// ensures every bucket exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir for %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketItems, bucketBids, bucketSales, bucketOutbox, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Items() domain.ItemStore          { return &ItemStore{s: s} }
func (s *Store) Bids() domain.BidLedger           { return &BidLedger{s: s} }
func (s *Store) Sales() domain.SaleLedger         { return &SaleLedger{s: s} }
func (s *Store) Outbox() domain.NotificationOutbox { return &Outbox{s: s} }
func (s *Store) Audit() domain.AuditStore         { return &AuditStore{s: s} }

// InTx runs fn inside one read-write transaction. Calling InTx on a Store
// that is already bound to a transaction reuses it.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Store{db: s.db, tx: tx})
	})
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.Update(fn)
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.View(fn)
}

// wrap classifies err: domain sentinels pass through, everything else is a
// storage failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		domain.ErrNotFound, domain.ErrConflict, domain.ErrAlreadyExists,
	} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("bolt: %s: %w", op, err)
		}
	}
	return fmt.Errorf("bolt: %s: %w: %w", op, domain.ErrStorage, err)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

var _ domain.Store = (*Store)(nil)
