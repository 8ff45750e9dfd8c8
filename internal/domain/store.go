package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Cursor is a keyset position in a scan ordered by (time, ID). The zero
// Cursor starts from the beginning.
type Cursor struct {
	At time.Time
	ID string
}

// IsZero reports whether c is the starting position.
func (c Cursor) IsZero() bool { return c.At.IsZero() && c.ID == "" }

// Precedes reports whether c sorts strictly before the row (at, id).
func (c Cursor) Precedes(at time.Time, id string) bool {
	if c.IsZero() {
		return true
	}
	if at.Equal(c.At) {
		return id > c.ID
	}
	return at.After(c.At)
}

// ItemStore persists the item aggregate.
type ItemStore interface {
	// Create inserts a new item. Returns ErrAlreadyExists on a duplicate ID.
	Create(ctx context.Context, item Item) error
	GetByID(ctx context.Context, id string) (Item, error)
	// Update writes item if the stored Version equals item.Version and returns
	// the stored row with the incremented version. Returns ErrConflict on a
	// version mismatch.
	Update(ctx context.Context, item Item) (Item, error)
	// ListDue returns active items whose end time is at or before now and
	// whose (end time, ID) sorts after the cursor, ordered by (end time, ID).
	ListDue(ctx context.Context, now time.Time, after Cursor, limit int) ([]Item, error)
	// ListPendingStart returns pending items whose start time has passed,
	// ordered by (start time, ID) and resuming after the cursor.
	ListPendingStart(ctx context.Context, now time.Time, after Cursor, limit int) ([]Item, error)
}

// BidLedger is the append-only bid history.
type BidLedger interface {
	Append(ctx context.Context, bid Bid) error
	// ListByItem returns bids in placement order.
	ListByItem(ctx context.Context, itemID string) ([]Bid, error)
	// ListBidders returns the distinct bidder IDs on an item in order of
	// their first bid.
	ListBidders(ctx context.Context, itemID string) ([]string, error)
}

// SaleLedger records the final outcome of each item.
type SaleLedger interface {
	// Record stores the outcome. Returns ErrAlreadyExists if the item already
	// has one.
	Record(ctx context.Context, outcome SaleOutcome) error
	GetByItem(ctx context.Context, itemID string) (SaleOutcome, error)
	ListUnarchived(ctx context.Context, limit int) ([]SaleOutcome, error)
	MarkArchived(ctx context.Context, itemID string, at time.Time) error
}

// NotificationOutbox holds notifications until they are dispatched.
type NotificationOutbox interface {
	Enqueue(ctx context.Context, notifications ...Notification) error
	// ListPending returns undispatched notifications with fewer than
	// maxAttempts attempts, oldest first.
	ListPending(ctx context.Context, limit, maxAttempts int) ([]Notification, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Notification, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Store groups every persistent collaborator of the engine. InTx runs fn
// against a Store bound to a single transaction; fn's writes commit together
// when it returns nil and are discarded otherwise.
type Store interface {
	Items() ItemStore
	Bids() BidLedger
	Sales() SaleLedger
	Outbox() NotificationOutbox
	Audit() AuditStore
	InTx(ctx context.Context, fn func(tx Store) error) error
}
