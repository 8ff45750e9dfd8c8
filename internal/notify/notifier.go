// Package notify delivers outbox notifications to end users (Redis stream
// inboxes, NATS JetStream) and mirrors selected kinds to operator chat
// channels (Telegram, Discord).
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Channel delivers a notification to its recipient. Delivery may repeat;
// n.ID is the idempotency key downstream consumers dedupe on.
type Channel interface {
	Deliver(ctx context.Context, n domain.Notification) error
	Name() string
}

// Alert is an operator-facing message.
type Alert struct {
	Event   string
	Title   string
	Message string
	Link    string
}

// Sender posts operator alerts to a chat service.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans a notification out to every Channel and, when its kind is in
// the configured event set, to every operator Sender. Only channel failures
// fail a dispatch; alerts are best effort.
type Notifier struct {
	channels []Channel
	senders  []Sender
	events   map[string]bool
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list forwards every kind
// to the senders.
func NewNotifier(channels []Channel, senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		channels: channels,
		senders:  senders,
		events:   allowed,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Dispatch delivers n to every channel. A failure on one channel does not
// skip the others; the combined error is returned so the outbox retries.
func (n *Notifier) Dispatch(ctx context.Context, note domain.Notification) error {
	var errs []error
	for _, ch := range n.channels {
		if err := ch.Deliver(ctx, note); err != nil {
			n.logger.WarnContext(ctx, "channel delivery failed",
				slog.String("channel", ch.Name()),
				slog.String("notification_id", note.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}

	n.Alert(ctx, Alert{
		Event:   string(note.Kind),
		Title:   alertTitle(note.Kind),
		Message: note.Message,
		Link:    note.Link,
	})

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d channel(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Alert sends a to the operator senders if its event passes the filter.
func (n *Notifier) Alert(ctx context.Context, a Alert) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[a.Event] {
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
		)
	}
}

func alertTitle(kind domain.NotificationKind) string {
	switch kind {
	case domain.NotifyOutbid:
		return "Outbid"
	case domain.NotifyAuctionWon:
		return "Auction won"
	case domain.NotifyItemSold:
		return "Item sold"
	case domain.NotifyAuctionLost:
		return "Auction lost"
	case domain.NotifyReserveNotMet:
		return "Reserve not met"
	case domain.NotifyNoBids:
		return "No bids"
	default:
		return string(kind)
	}
}
