package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements domain.Store. A Store handed to an InTx callback runs
// every query on that transaction and row-locks the items it reads.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

func (s *Store) Items() domain.ItemStore           { return &ItemStore{q: s.q, lockRows: s.inTx} }
func (s *Store) Bids() domain.BidLedger            { return &BidLedger{q: s.q} }
func (s *Store) Sales() domain.SaleLedger          { return &SaleLedger{q: s.q} }
func (s *Store) Outbox() domain.NotificationOutbox { return &OutboxStore{q: s.q} }
func (s *Store) Audit() domain.AuditStore          { return &AuditStore{q: s.q} }

// InTx runs fn in a read-committed transaction. Nested calls reuse the
// outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	var fnErr error
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		fnErr = fn(&Store{pool: s.pool, q: tx, inTx: true})
		return fnErr
	})
	if err != nil && fnErr == nil {
		// begin or commit failed
		return fmt.Errorf("postgres: transaction: %w: %w", domain.ErrStorage, err)
	}
	return err
}

const uniqueViolation = "23505"

// classify maps driver errors onto domain sentinels. Anything unrecognized
// is a storage failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrAlreadyExists)
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrStorage, err)
}

var _ domain.Store = (*Store)(nil)
