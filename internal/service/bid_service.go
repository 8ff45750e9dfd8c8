package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/auction"
	"github.com/alanyoungcy/bidengine/internal/domain"
)

// RateLimit bounds how many bids one bidder may place per window. A zero
// Limit disables the check.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// BidServiceConfig carries the bidding rules.
type BidServiceConfig struct {
	Schedule  auction.Schedule
	Policy    auction.Policy
	RateLimit RateLimit
}

// PlaceBidRequest is an incoming bid. BidderID is trusted input.
type PlaceBidRequest struct {
	ItemID       string
	BidderID     string
	Amount       decimal.Decimal
	ProxyCeiling decimal.NullDecimal
}

// RegisterItemRequest lists a new item for auction.
type RegisterItemRequest struct {
	ID           string
	SellerID     string
	Title        string
	StartPrice   decimal.Decimal
	ReservePrice decimal.NullDecimal
	BuyNowPrice  decimal.NullDecimal
	StartTime    time.Time
	EndTime      time.Time
}

// BidService serializes every mutation of an item behind its KeyedLocker
// slot and a single store transaction. Cache, bus and outbox writes after
// the commit are best effort.
type BidService struct {
	store    domain.Store
	locker   domain.KeyedLocker
	schedule auction.Schedule
	policy   auction.Policy
	rate     RateLimit
	cache    domain.ItemCache
	bus      domain.SignalBus
	limiter  domain.RateLimiter
	now      func() time.Time
	logger   *slog.Logger
}

// NewBidService creates a BidService. Optional collaborators are attached
// with the With* methods.
func NewBidService(store domain.Store, locker domain.KeyedLocker, cfg BidServiceConfig, logger *slog.Logger) *BidService {
	return &BidService{
		store:    store,
		locker:   locker,
		schedule: cfg.Schedule,
		policy:   cfg.Policy,
		rate:     cfg.RateLimit,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "bid_service")),
	}
}

// WithCache attaches the display snapshot cache.
func (s *BidService) WithCache(c domain.ItemCache) *BidService {
	s.cache = c
	return s
}

// WithSignalBus attaches the bus live events are published on.
func (s *BidService) WithSignalBus(b domain.SignalBus) *BidService {
	s.bus = b
	return s
}

// WithRateLimiter enables per-bidder rate limiting.
func (s *BidService) WithRateLimiter(l domain.RateLimiter) *BidService {
	s.limiter = l
	return s
}

// WithClock replaces the wall clock, for tests.
func (s *BidService) WithClock(now func() time.Time) *BidService {
	s.now = now
	return s
}

// Schedule returns the increment schedule in use.
func (s *BidService) Schedule() auction.Schedule {
	return s.schedule
}

// RegisterItem validates and stores a new listing. Items whose start time has
// passed open immediately.
func (s *BidService) RegisterItem(ctx context.Context, req RegisterItemRequest) (domain.Item, error) {
	now := s.now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	it := domain.Item{
		ID:           req.ID,
		SellerID:     req.SellerID,
		Title:        req.Title,
		StartPrice:   req.StartPrice,
		ReservePrice: req.ReservePrice,
		BuyNowPrice:  req.BuyNowPrice,
		StartTime:    req.StartTime.UTC(),
		EndTime:      req.EndTime.UTC(),
		CurrentPrice: req.StartPrice,
		Status:       domain.ItemPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !it.StartTime.After(now) {
		it.Status = domain.ItemActive
	}
	if err := it.Validate(); err != nil {
		return domain.Item{}, err
	}

	err := s.store.InTx(ctx, func(tx domain.Store) error {
		if err := tx.Items().Create(ctx, it); err != nil {
			return err
		}
		return tx.Audit().Log(ctx, "item_registered", map[string]any{
			"item_id":   it.ID,
			"seller_id": it.SellerID,
			"status":    string(it.Status),
		})
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("bid_service: register item %s: %w", it.ID, err)
	}

	s.logger.InfoContext(ctx, "item registered",
		slog.String("item_id", it.ID),
		slog.String("status", string(it.Status)),
	)
	s.refresh(ctx, it)
	return it, nil
}

// GetItem returns the authoritative item from the store.
func (s *BidService) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	it, err := s.store.Items().GetByID(ctx, itemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("bid_service: get item %s: %w", itemID, err)
	}
	return it, nil
}

// PlaceBid validates the offer, resolves it against the standing proxy and
// persists the result. Rejections never change the item.
func (s *BidService) PlaceBid(ctx context.Context, req PlaceBidRequest) (domain.BidResult, error) {
	if err := s.checkRate(ctx, req.BidderID); err != nil {
		return domain.BidResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, req.ItemID)
	if err != nil {
		return domain.BidResult{}, fmt.Errorf("bid_service: place bid %s: %w", req.ItemID, err)
	}

	var (
		item     domain.Item
		res      auction.Resolution
		bid      domain.Bid
		extended bool
	)
	now := s.now()
	err = s.store.InTx(ctx, func(tx domain.Store) error {
		it, err := tx.Items().GetByID(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if !it.Biddable(now) {
			return fmt.Errorf("%w: status %s, ends %s", domain.ErrAuctionNotActive, it.Status, it.EndTime.Format(time.RFC3339))
		}
		if it.SellerID == req.BidderID {
			return domain.ErrSelfBid
		}

		st := auction.StateOf(it)
		offer := auction.Offer{BidderID: req.BidderID, Amount: req.Amount, Ceiling: req.ProxyCeiling}
		if err := auction.Validate(st, offer, s.schedule); err != nil {
			return err
		}
		res = auction.Resolve(st, offer, s.schedule)

		it.CurrentPrice = res.Price
		it.LeaderID = res.LeaderID
		it.LeaderCeiling = res.LeaderCeiling
		it.EndTime, extended = s.policy.Apply(it.EndTime, now, it.ExtensionCount)
		if extended {
			it.ExtensionCount++
		}
		it.UpdatedAt = now

		bid = domain.Bid{
			ID:               uuid.NewString(),
			ItemID:           it.ID,
			BidderID:         req.BidderID,
			Amount:           req.Amount,
			ProxyCeiling:     req.ProxyCeiling,
			ResolvedAsLeader: res.SubmitterLeads,
			Kind:             domain.BidKindBid,
			PlacedAt:         now,
		}
		if err := tx.Bids().Append(ctx, bid); err != nil {
			return err
		}
		item, err = tx.Items().Update(ctx, it)
		return err
	})
	unlock()
	if err != nil {
		return domain.BidResult{}, s.placeError(req, err)
	}

	result := domain.BidResult{
		BidID:       bid.ID,
		Accepted:    true,
		Outbid:      !res.SubmitterLeads,
		Price:       item.CurrentPrice,
		LeaderID:    item.LeaderID,
		EndTime:     item.EndTime,
		Extended:    extended,
		MinimumNext: s.schedule.MinimumNext(item.CurrentPrice),
	}

	s.logger.InfoContext(ctx, "bid accepted",
		slog.String("item_id", item.ID),
		slog.String("bid_id", bid.ID),
		slog.String("bidder_id", req.BidderID),
		slog.String("price", item.CurrentPrice.String()),
		slog.String("leader_id", item.LeaderID),
		slog.Bool("outbid", result.Outbid),
		slog.Bool("extended", extended),
	)

	s.refresh(ctx, item)
	ev := domain.NewAuctionEvent(domain.EventBidPlaced, item, now)
	ev.Extended = extended
	s.publish(ctx, ev)

	var notifyID string
	switch {
	case result.Outbid:
		notifyID = req.BidderID
	case res.DisplacedID != "":
		notifyID = res.DisplacedID
	}
	if notifyID != "" {
		n := domain.NewNotification(notifyID, item.ID, domain.OutbidPayload{
			Title:        item.Title,
			CurrentPrice: item.CurrentPrice,
			MinimumNext:  result.MinimumNext,
		}, now)
		if err := s.store.Outbox().Enqueue(ctx, n); err != nil {
			s.logger.WarnContext(ctx, "enqueue outbid notification failed",
				slog.String("item_id", item.ID),
				slog.String("user_id", notifyID),
				slog.String("error", err.Error()),
			)
		}
	}

	return result, nil
}

func (s *BidService) placeError(req PlaceBidRequest, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("bid_service: place bid %s: %w: %w", req.ItemID, domain.ErrBusy, err)
	}
	return fmt.Errorf("bid_service: place bid %s: %w", req.ItemID, err)
}

func (s *BidService) checkRate(ctx context.Context, bidderID string) error {
	if s.limiter == nil || s.rate.Limit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "bids:"+bidderID, s.rate.Limit, s.rate.Window)
	if err != nil {
		// Fail open.
		s.logger.WarnContext(ctx, "rate limiter unavailable",
			slog.String("bidder_id", bidderID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !allowed {
		return fmt.Errorf("bid_service: bidder %s: %w", bidderID, domain.ErrRateLimited)
	}
	return nil
}

// BuyNow sells the item to buyerID at its buy-now price, ending the auction.
func (s *BidService) BuyNow(ctx context.Context, itemID, buyerID string) (domain.SaleOutcome, error) {
	unlock, err := s.locker.Lock(ctx, itemID)
	if err != nil {
		return domain.SaleOutcome{}, fmt.Errorf("bid_service: buy now %s: %w", itemID, err)
	}

	var (
		item    domain.Item
		outcome domain.SaleOutcome
	)
	now := s.now()
	err = s.store.InTx(ctx, func(tx domain.Store) error {
		it, err := tx.Items().GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if !it.Biddable(now) {
			return fmt.Errorf("%w: status %s", domain.ErrAuctionNotActive, it.Status)
		}
		if it.SellerID == buyerID {
			return domain.ErrSelfBid
		}
		if !it.BuyNowPrice.Valid || !it.CurrentPrice.LessThan(it.BuyNowPrice.Decimal) {
			return domain.ErrBuyNowUnavailable
		}

		bidders, err := tx.Bids().ListBidders(ctx, it.ID)
		if err != nil {
			return err
		}
		price := it.BuyNowPrice.Decimal
		if err := tx.Bids().Append(ctx, domain.Bid{
			ID:               uuid.NewString(),
			ItemID:           it.ID,
			BidderID:         buyerID,
			Amount:           price,
			ResolvedAsLeader: true,
			Kind:             domain.BidKindBuyNow,
			PlacedAt:         now,
		}); err != nil {
			return err
		}

		it.CurrentPrice = price
		it.LeaderID = buyerID
		it.LeaderCeiling = decimal.NullDecimal{}
		it.Status = domain.ItemSold
		it.UpdatedAt = now
		if item, err = tx.Items().Update(ctx, it); err != nil {
			return err
		}

		outcome = domain.SaleOutcome{
			ItemID:     it.ID,
			SellerID:   it.SellerID,
			BuyerID:    buyerID,
			FinalPrice: decimal.NewNullDecimal(price),
			Kind:       domain.SaleSold,
			Source:     domain.SourceBuyNow,
			ClosedAt:   now,
		}
		if err := tx.Sales().Record(ctx, outcome); err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, outcomeNotifications(item, outcome, bidders, now)...); err != nil {
			return err
		}
		return tx.Audit().Log(ctx, "item_bought_now", map[string]any{
			"item_id":  it.ID,
			"buyer_id": buyerID,
			"price":    price.String(),
		})
	})
	unlock()
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.SaleOutcome{}, fmt.Errorf("bid_service: buy now %s: %w: %w", itemID, domain.ErrBusy, err)
		}
		return domain.SaleOutcome{}, fmt.Errorf("bid_service: buy now %s: %w", itemID, err)
	}

	s.logger.InfoContext(ctx, "item bought now",
		slog.String("item_id", itemID),
		slog.String("buyer_id", buyerID),
		slog.String("price", item.CurrentPrice.String()),
	)
	s.refresh(ctx, item)
	ev := domain.NewAuctionEvent(domain.EventBoughtNow, item, now)
	ev.Outcome = outcome.Kind
	s.publish(ctx, ev)
	return outcome, nil
}

// MinimumNextBid returns the lowest amount the next bid may carry. It reads
// the snapshot cache when one is attached.
func (s *BidService) MinimumNextBid(ctx context.Context, itemID string) (decimal.Decimal, error) {
	if s.cache != nil {
		if it, err := s.cache.Get(ctx, itemID); err == nil {
			return s.schedule.MinimumNext(it.CurrentPrice), nil
		}
	}
	it, err := s.store.Items().GetByID(ctx, itemID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bid_service: minimum bid %s: %w", itemID, err)
	}
	return s.schedule.MinimumNext(it.CurrentPrice), nil
}

// BidHistory returns the item's bids in placement order.
func (s *BidService) BidHistory(ctx context.Context, itemID string) ([]domain.Bid, error) {
	if _, err := s.store.Items().GetByID(ctx, itemID); err != nil {
		return nil, fmt.Errorf("bid_service: bid history %s: %w", itemID, err)
	}
	bids, err := s.store.Bids().ListByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("bid_service: bid history %s: %w", itemID, err)
	}
	return bids, nil
}

// Notifications returns a user's notifications, newest first.
func (s *BidService) Notifications(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Notification, error) {
	out, err := s.store.Outbox().ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("bid_service: notifications %s: %w", userID, err)
	}
	return out, nil
}

func (s *BidService) refresh(ctx context.Context, it domain.Item) {
	refreshCache(ctx, s.cache, it, s.logger)
}

func (s *BidService) publish(ctx context.Context, ev domain.AuctionEvent) {
	publishEvent(ctx, s.bus, ev, s.logger)
}

func refreshCache(ctx context.Context, cache domain.ItemCache, it domain.Item, logger *slog.Logger) {
	if cache == nil {
		return
	}
	// Finished items drop out of the snapshot cache; readers fall back to
	// the store.
	if it.Status.Terminal() {
		if err := cache.Invalidate(ctx, it.ID); err != nil {
			logger.WarnContext(ctx, "item cache invalidate failed",
				slog.String("item_id", it.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if err := cache.Set(ctx, it); err != nil {
		logger.WarnContext(ctx, "item cache refresh failed",
			slog.String("item_id", it.ID),
			slog.String("error", err.Error()),
		)
	}
}

func publishEvent(ctx context.Context, bus domain.SignalBus, ev domain.AuctionEvent, logger *slog.Logger) {
	if bus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.WarnContext(ctx, "marshal auction event failed", slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, domain.AuctionChannel(ev.ItemID), data); err != nil {
		logger.WarnContext(ctx, "publish auction event failed",
			slog.String("item_id", ev.ItemID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
