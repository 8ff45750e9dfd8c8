package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Dispatcher delivers one notification. It may be called more than once for
// the same notification; n.ID is the idempotency key.
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification) error
}

// OutboxRelay drains the notification outbox into a Dispatcher.
type OutboxRelay struct {
	outbox      domain.NotificationOutbox
	dispatcher  Dispatcher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// NewOutboxRelay creates an OutboxRelay. Notifications that fail maxAttempts
// times stay in the outbox but are no longer retried.
func NewOutboxRelay(
	outbox domain.NotificationOutbox,
	dispatcher Dispatcher,
	interval time.Duration,
	batchSize, maxAttempts int,
	logger *slog.Logger,
) *OutboxRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		outbox:      outbox,
		dispatcher:  dispatcher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "outbox_relay")),
	}
}

// Run relays on every tick until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox relay pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce dispatches one batch and returns how many were delivered.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListPending(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("outbox_relay: list pending: %w", err)
	}

	delivered := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := r.dispatcher.Dispatch(ctx, n); err != nil {
			r.logger.WarnContext(ctx, "notification dispatch failed",
				slog.String("notification_id", n.ID),
				slog.String("user_id", n.UserID),
				slog.String("kind", string(n.Kind)),
				slog.Int("attempts", n.Attempts+1),
				slog.String("error", err.Error()),
			)
			if markErr := r.outbox.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
				r.logger.ErrorContext(ctx, "mark notification failed",
					slog.String("notification_id", n.ID),
					slog.String("error", markErr.Error()),
				)
			}
			continue
		}
		if err := r.outbox.MarkDispatched(ctx, n.ID, r.now()); err != nil {
			// Delivered but not marked: it will be sent again.
			r.logger.ErrorContext(ctx, "mark notification dispatched failed",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}

	if len(pending) > 0 {
		r.logger.DebugContext(ctx, "outbox relay pass",
			slog.Int("pending", len(pending)),
			slog.Int("delivered", delivered),
		)
	}
	return delivered, nil
}
