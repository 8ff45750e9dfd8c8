package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// streamReader is satisfied by the Redis signal bus.
type streamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// Inbox reads the per-user Redis streams StreamChannel writes to. Stream entry
// IDs are the polling cursor.
type Inbox struct {
	bus streamReader
}

// NewInbox creates an Inbox over bus.
func NewInbox(bus streamReader) *Inbox {
	return &Inbox{bus: bus}
}

// Read returns up to count notifications appended to userID's stream after
// afterID ("0" reads from the start) and the cursor to pass next time.
// Entries that no longer decode are skipped but still advance the cursor.
func (i *Inbox) Read(ctx context.Context, userID, afterID string, count int) ([]domain.Notification, string, error) {
	if afterID == "" {
		afterID = "0"
	}
	msgs, err := i.bus.StreamRead(ctx, UserStream(userID), afterID, count)
	if err != nil {
		return nil, afterID, fmt.Errorf("inbox: read %s: %w", userID, err)
	}

	next := afterID
	notes := make([]domain.Notification, 0, len(msgs))
	for _, m := range msgs {
		next = m.ID
		var n domain.Notification
		if err := json.Unmarshal(m.Payload, &n); err != nil {
			continue
		}
		notes = append(notes, n)
	}
	return notes, next, nil
}
