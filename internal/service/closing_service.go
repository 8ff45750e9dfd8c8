package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

var errNotDue = errors.New("auction end moved past close time")

// ClosingService finalizes auctions whose end time has passed and opens
// pending ones whose start time has arrived. Each item is handled under its
// own lock and transaction so one failure never blocks the batch.
type ClosingService struct {
	store     domain.Store
	locker    domain.KeyedLocker
	cache     domain.ItemCache
	bus       domain.SignalBus
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewClosingService creates a ClosingService. interval is the tick period of
// Run; batchSize is the page size used when scanning due items.
func NewClosingService(
	store domain.Store,
	locker domain.KeyedLocker,
	interval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *ClosingService {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ClosingService{
		store:     store,
		locker:    locker,
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "closing_service")),
	}
}

// WithCache refreshes cached item snapshots after each transition.
func (c *ClosingService) WithCache(cache domain.ItemCache) *ClosingService {
	c.cache = cache
	return c
}

// WithSignalBus publishes open, close and cancel events to bus.
func (c *ClosingService) WithSignalBus(bus domain.SignalBus) *ClosingService {
	c.bus = bus
	return c
}

// WithClock overrides the time source used by RunOnce and CancelAuction.
func (c *ClosingService) WithClock(now func() time.Time) *ClosingService {
	c.now = now
	return c
}

// Run activates and closes auctions on every tick until ctx is done. Call in
// a goroutine.
func (c *ClosingService) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.ErrorContext(ctx, "closing pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce performs a single activation and closing pass at the current time.
// A failed activation scan does not skip closing; both errors are returned.
func (c *ClosingService) RunOnce(ctx context.Context) error {
	now := c.now()
	_, activateErr := c.ActivateDue(ctx, now)
	if activateErr != nil {
		c.logger.ErrorContext(ctx, "activation pass failed", slog.String("error", activateErr.Error()))
	}
	_, closeErr := c.CloseDueAuctions(ctx, now)
	return errors.Join(activateErr, closeErr)
}

// CloseDueAuctions finalizes due items and returns the outcomes recorded by
// this call. It pages through every due item, so items that keep failing never
// hide the ones behind them. Items already finalized, or extended past now,
// are skipped. The error is non-nil only when the due list cannot be read.
func (c *ClosingService) CloseDueAuctions(ctx context.Context, now time.Time) ([]domain.SaleOutcome, error) {
	var (
		outcomes []domain.SaleOutcome
		cursor   domain.Cursor
		due      int
		skipped  int
		failed   int
	)
	for ctx.Err() == nil {
		page, err := c.store.Items().ListDue(ctx, now, cursor, c.batchSize)
		if err != nil {
			return outcomes, fmt.Errorf("closing_service: list due: %w", err)
		}
		for _, it := range page {
			if ctx.Err() != nil {
				break
			}
			due++
			o, err := c.closeItem(ctx, it.ID, now)
			switch {
			case err == nil:
				outcomes = append(outcomes, o)
			case errors.Is(err, domain.ErrAlreadyClosed), errors.Is(err, errNotDue):
				skipped++
			default:
				failed++
				c.logger.ErrorContext(ctx, "close auction failed",
					slog.String("item_id", it.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if len(page) < c.batchSize {
			break
		}
		last := page[len(page)-1]
		cursor = domain.Cursor{At: last.EndTime, ID: last.ID}
	}

	if due > 0 {
		c.logger.InfoContext(ctx, "closing pass complete",
			slog.Int("due", due),
			slog.Int("closed", len(outcomes)),
			slog.Int("skipped", skipped),
			slog.Int("failed", failed),
		)
	}
	return outcomes, nil
}

func (c *ClosingService) closeItem(ctx context.Context, itemID string, now time.Time) (domain.SaleOutcome, error) {
	unlock, err := c.locker.Lock(ctx, itemID)
	if err != nil {
		return domain.SaleOutcome{}, err
	}
	defer unlock()

	var (
		item    domain.Item
		outcome domain.SaleOutcome
	)
	err = c.store.InTx(ctx, func(tx domain.Store) error {
		it, err := tx.Items().GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if it.Status != domain.ItemActive {
			return fmt.Errorf("%w: status %s", domain.ErrAlreadyClosed, it.Status)
		}
		if it.EndTime.After(now) {
			return errNotDue
		}

		outcome = domain.DecideOutcome(it, now)
		if err := tx.Sales().Record(ctx, outcome); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("%w: %w", domain.ErrAlreadyClosed, err)
			}
			return err
		}

		bidders, err := tx.Bids().ListBidders(ctx, it.ID)
		if err != nil {
			return err
		}
		it.Status = outcome.Status()
		it.UpdatedAt = now
		if item, err = tx.Items().Update(ctx, it); err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, outcomeNotifications(item, outcome, bidders, now)...); err != nil {
			return err
		}
		detail := map[string]any{
			"item_id": it.ID,
			"outcome": string(outcome.Kind),
			"price":   it.CurrentPrice.String(),
		}
		if outcome.BuyerID != "" {
			detail["buyer_id"] = outcome.BuyerID
		}
		return tx.Audit().Log(ctx, "auction_closed", detail)
	})
	if err != nil {
		return domain.SaleOutcome{}, err
	}

	c.logger.InfoContext(ctx, "auction closed",
		slog.String("item_id", item.ID),
		slog.String("outcome", string(outcome.Kind)),
		slog.String("price", item.CurrentPrice.String()),
	)
	refreshCache(ctx, c.cache, item, c.logger)
	ev := domain.NewAuctionEvent(domain.EventAuctionClosed, item, now)
	ev.Outcome = outcome.Kind
	publishEvent(ctx, c.bus, ev, c.logger)
	return outcome, nil
}

// ActivateDue opens pending items whose start time has passed and returns how
// many were opened. Like CloseDueAuctions it pages past items that fail.
func (c *ClosingService) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	var cursor domain.Cursor
	opened := 0
	for ctx.Err() == nil {
		page, err := c.store.Items().ListPendingStart(ctx, now, cursor, c.batchSize)
		if err != nil {
			return opened, fmt.Errorf("closing_service: list pending: %w", err)
		}
		for _, it := range page {
			if ctx.Err() != nil {
				break
			}
			if c.activate(ctx, it.ID, now) {
				opened++
			}
		}
		if len(page) < c.batchSize {
			break
		}
		last := page[len(page)-1]
		cursor = domain.Cursor{At: last.StartTime, ID: last.ID}
	}
	return opened, nil
}

func (c *ClosingService) activate(ctx context.Context, itemID string, now time.Time) bool {
	item, err := c.transition(ctx, itemID, now, func(cur domain.Item) error {
		if cur.Status != domain.ItemPending {
			return fmt.Errorf("%w: status %s", domain.ErrAlreadyClosed, cur.Status)
		}
		return nil
	}, domain.ItemActive, "auction_opened")
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyClosed) {
			c.logger.ErrorContext(ctx, "activate auction failed",
				slog.String("item_id", itemID),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	publishEvent(ctx, c.bus, domain.NewAuctionEvent(domain.EventAuctionOpened, item, now), c.logger)
	return true
}

// CancelAuction withdraws a pending or active item. No outcome is recorded.
func (c *ClosingService) CancelAuction(ctx context.Context, itemID string) (domain.Item, error) {
	now := c.now()
	item, err := c.transition(ctx, itemID, now, func(cur domain.Item) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: status %s", domain.ErrAlreadyClosed, cur.Status)
		}
		return nil
	}, domain.ItemCancelled, "auction_cancelled")
	if err != nil {
		return domain.Item{}, fmt.Errorf("closing_service: cancel %s: %w", itemID, err)
	}
	c.logger.InfoContext(ctx, "auction cancelled", slog.String("item_id", itemID))
	publishEvent(ctx, c.bus, domain.NewAuctionEvent(domain.EventCancelled, item, now), c.logger)
	return item, nil
}

// transition moves one item to status under its lock after check accepts the
// current state.
func (c *ClosingService) transition(
	ctx context.Context,
	itemID string,
	now time.Time,
	check func(domain.Item) error,
	status domain.ItemStatus,
	event string,
) (domain.Item, error) {
	unlock, err := c.locker.Lock(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	defer unlock()

	var item domain.Item
	err = c.store.InTx(ctx, func(tx domain.Store) error {
		it, err := tx.Items().GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if err := check(it); err != nil {
			return err
		}
		prev := it.Status
		it.Status = status
		it.UpdatedAt = now
		if item, err = tx.Items().Update(ctx, it); err != nil {
			return err
		}
		return tx.Audit().Log(ctx, event, map[string]any{
			"item_id": it.ID,
			"from":    string(prev),
			"to":      string(status),
		})
	})
	if err != nil {
		return domain.Item{}, err
	}
	refreshCache(ctx, c.cache, item, c.logger)
	return item, nil
}
