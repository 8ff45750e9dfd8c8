package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/auction"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/lock"
	boltstore "github.com/alanyoungcy/bidengine/internal/store/bolt"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.AuctionEvent
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	var ev domain.AuctionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	if channel != domain.AuctionChannel(ev.ItemID) {
		return fmt.Errorf("unexpected channel %s", channel)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error        { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) types() []domain.AuctionEventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.AuctionEventType, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Type)
	}
	return out
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

type fixture struct {
	store   *boltstore.Store
	bids    *BidService
	closing *ClosingService
	bus     *fakeBus
	now     time.Time
}

func newFixture(t *testing.T, schedule auction.Schedule) *fixture {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "engine.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, bus: &fakeBus{}, now: testNow}
	clock := func() time.Time { return f.now }
	locker := lock.NewKeyed(5 * time.Second)
	f.bids = NewBidService(store, locker, BidServiceConfig{
		Schedule: schedule,
		Policy:   auction.Policy{GracePeriod: 5 * time.Minute, Extension: 5 * time.Minute},
	}, discardLogger()).WithSignalBus(f.bus).WithClock(clock)
	f.closing = NewClosingService(store, locker, time.Minute, 100, discardLogger()).
		WithSignalBus(f.bus).WithClock(clock)
	return f
}

func (f *fixture) register(t *testing.T, req RegisterItemRequest) domain.Item {
	t.Helper()
	if req.SellerID == "" {
		req.SellerID = "seller"
	}
	if req.Title == "" {
		req.Title = "Lamp"
	}
	if req.StartTime.IsZero() {
		req.StartTime = f.now.Add(-time.Hour)
	}
	if req.EndTime.IsZero() {
		req.EndTime = f.now.Add(time.Hour)
	}
	it, err := f.bids.RegisterItem(context.Background(), req)
	assert.NoError(t, err)
	return it
}

func (f *fixture) item(t *testing.T, id string) domain.Item {
	t.Helper()
	it, err := f.store.Items().GetByID(context.Background(), id)
	assert.NoError(t, err)
	return it
}

func (f *fixture) notifications(t *testing.T, userID string) []domain.Notification {
	t.Helper()
	out, err := f.store.Outbox().ListByUser(context.Background(), userID, domain.ListOpts{})
	assert.NoError(t, err)
	return out
}

func TestPlaceBid_ProxyConvergence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.FlatSchedule(d("5")))
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})

	res, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20"), ProxyCeiling: nd("100")})
	assert.NoError(t, err)
	check.False(t, res.Outbid)
	check.Equal(t, "20", res.Price.String())

	res, err = f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "B", Amount: d("80")})
	assert.NoError(t, err)
	check.True(t, res.Accepted)
	check.True(t, res.Outbid)
	check.Equal(t, "85", res.Price.String())
	check.Equal(t, "A", res.LeaderID)
	check.Equal(t, "90", res.MinimumNext.String())

	it := f.item(t, "item-1")
	check.Equal(t, "A", it.LeaderID)
	check.Equal(t, "100", it.LeaderCeiling.Decimal.String())

	bids, err := f.bids.BidHistory(ctx, "item-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.True(t, bids[0].ResolvedAsLeader)
	check.False(t, bids[1].ResolvedAsLeader)
	check.Equal(t, "80", bids[1].Amount.String())

	outbid := f.notifications(t, "B")
	assert.Equal(t, 1, len(outbid))
	check.Equal(t, domain.NotifyOutbid, outbid[0].Kind)
	check.Equal(t, 0, len(f.notifications(t, "A")))
}

func TestPlaceBid_RejectionsDoNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	end := f.now.Add(100 * time.Second)
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10"), EndTime: end})
	before := f.item(t, "item-1")

	cases := []struct {
		name string
		req  PlaceBidRequest
		want error
	}{
		{"below minimum", PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("10.50")}, domain.ErrBidTooLow},
		{"ceiling below amount", PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20"), ProxyCeiling: nd("15")}, domain.ErrInvalidProxyCeiling},
		{"sub-cent amount", PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("55.005")}, domain.ErrInvalidAmount},
		{"sub-cent ceiling", PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20"), ProxyCeiling: nd("90.001")}, domain.ErrInvalidAmount},
		{"seller", PlaceBidRequest{ItemID: "item-1", BidderID: "seller", Amount: d("20")}, domain.ErrSelfBid},
		{"unknown item", PlaceBidRequest{ItemID: "nope", BidderID: "A", Amount: d("20")}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.bids.PlaceBid(ctx, tc.req)
			check.True(t, errors.Is(err, tc.want))
		})
	}

	after := f.item(t, "item-1")
	check.Equal(t, before.Version, after.Version)
	check.True(t, after.EndTime.Equal(end))
	check.Equal(t, "10", after.CurrentPrice.String())
	bids, err := f.bids.BidHistory(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))
	check.Equal(t, 0, len(f.bus.types()))
}

func TestPlaceBid_AuctionNotActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "later", StartPrice: d("10"), StartTime: f.now.Add(time.Hour), EndTime: f.now.Add(2 * time.Hour)})
	f.register(t, RegisterItemRequest{ID: "ending", StartPrice: d("10"), EndTime: f.now.Add(time.Second)})

	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "later", BidderID: "A", Amount: d("20")})
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))

	f.now = f.now.Add(time.Second)
	_, err = f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "ending", BidderID: "A", Amount: d("20")})
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))
}

func TestPlaceBid_AntiSniping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10"), EndTime: f.now.Add(100 * time.Second)})

	res, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20")})
	assert.NoError(t, err)
	check.True(t, res.Extended)
	check.True(t, res.EndTime.Equal(f.now.Add(400*time.Second)))

	it := f.item(t, "item-1")
	check.Equal(t, 1, it.ExtensionCount)
	check.True(t, it.EndTime.Equal(f.now.Add(400*time.Second)))
	check.Equal(t, []domain.AuctionEventType{domain.EventBidPlaced}, f.bus.types())
}

func TestPlaceBid_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})
	f.bids.rate = RateLimit{Limit: 1, Window: time.Second}
	f.bids.WithRateLimiter(denyLimiter{})

	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20")})
	check.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestPlaceBid_ConcurrentBidsSerialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 2; i <= 9; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{
				ItemID:   "item-1",
				BidderID: fmt.Sprintf("bidder-%d", i),
				Amount:   decimal.NewFromInt(int64(i * 10)),
			})
			if err != nil {
				check.True(t, errors.Is(err, domain.ErrBidTooLow))
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	it := f.item(t, "item-1")
	check.Equal(t, "90", it.CurrentPrice.String())
	check.Equal(t, "bidder-9", it.LeaderID)
	check.Equal(t, int64(accepted), it.Version)

	bids, err := f.bids.BidHistory(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, accepted, len(bids))
	for i := 1; i < len(bids); i++ {
		check.True(t, bids[i].Amount.GreaterThan(bids[i-1].Amount))
	}
}

func TestEndToEnd_ReserveNotMet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10"), ReservePrice: nd("50")})

	res, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "X", Amount: d("20")})
	assert.NoError(t, err)
	check.Equal(t, "X", res.LeaderID)
	check.Equal(t, "20", res.Price.String())

	res, err = f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "Y", Amount: d("45"), ProxyCeiling: nd("60")})
	assert.NoError(t, err)
	check.Equal(t, "Y", res.LeaderID)
	check.Equal(t, "45", res.Price.String())
	check.Equal(t, 1, len(f.notifications(t, "X")))

	f.now = f.now.Add(2 * time.Hour)
	outcomes, err := f.closing.CloseDueAuctions(ctx, f.now)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(outcomes))
	check.Equal(t, domain.SaleReserveNotMet, outcomes[0].Kind)
	check.Equal(t, "", outcomes[0].BuyerID)
	check.False(t, outcomes[0].FinalPrice.Valid)
	check.Equal(t, domain.ItemClosed, f.item(t, "item-1").Status)

	seller := f.notifications(t, "seller")
	assert.Equal(t, 1, len(seller))
	check.Equal(t, domain.NotifyReserveNotMet, seller[0].Kind)
	for _, bidder := range []string{"X", "Y"} {
		got := f.notifications(t, bidder)
		assert.True(t, len(got) > 0)
		check.Equal(t, domain.NotifyAuctionLost, got[0].Kind)
	}
}

func TestEndToEnd_Sold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})

	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "buyer", Amount: d("15")})
	assert.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	outcomes, err := f.closing.CloseDueAuctions(ctx, f.now)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(outcomes))
	o := outcomes[0]
	check.Equal(t, domain.SaleSold, o.Kind)
	check.Equal(t, "buyer", o.BuyerID)
	check.Equal(t, "15", o.FinalPrice.Decimal.String())
	check.Equal(t, domain.ItemSold, f.item(t, "item-1").Status)

	won := f.notifications(t, "buyer")
	assert.Equal(t, 1, len(won))
	check.Equal(t, domain.NotifyAuctionWon, won[0].Kind)
	sold := f.notifications(t, "seller")
	assert.Equal(t, 1, len(sold))
	check.Equal(t, domain.NotifyItemSold, sold[0].Kind)
}

func TestCloseDueAuctions_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})

	f.now = f.now.Add(2 * time.Hour)
	first, err := f.closing.CloseDueAuctions(ctx, f.now)
	assert.NoError(t, err)
	check.Equal(t, 1, len(first))
	check.Equal(t, domain.SaleNoBids, first[0].Kind)

	second, err := f.closing.CloseDueAuctions(ctx, f.now)
	assert.NoError(t, err)
	check.Equal(t, 0, len(second))

	_, err = f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20")})
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))
	check.Equal(t, 1, len(f.notifications(t, "seller")))
}

func TestCloseDueAuctions_SkipsExtendedItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10"), EndTime: f.now.Add(time.Minute)})

	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20")})
	assert.NoError(t, err)

	// The sweep was scheduled at the original end, before the extension.
	outcomes, err := f.closing.CloseDueAuctions(ctx, f.now.Add(time.Minute))
	assert.NoError(t, err)
	check.Equal(t, 0, len(outcomes))
	check.Equal(t, domain.ItemActive, f.item(t, "item-1").Status)
}

type flakyStore struct {
	domain.Store
	failItem string
}

func (s *flakyStore) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.Store.InTx(ctx, func(tx domain.Store) error {
		return fn(&flakyStore{Store: tx, failItem: s.failItem})
	})
}

func (s *flakyStore) Sales() domain.SaleLedger {
	return flakySales{SaleLedger: s.Store.Sales(), failItem: s.failItem}
}

type flakySales struct {
	domain.SaleLedger
	failItem string
}

func (s flakySales) Record(ctx context.Context, o domain.SaleOutcome) error {
	if o.ItemID == s.failItem {
		return fmt.Errorf("%w: disk full", domain.ErrStorage)
	}
	return s.SaleLedger.Record(ctx, o)
}

func TestCloseDueAuctions_FailureIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	for _, id := range []string{"a", "b", "c"} {
		f.register(t, RegisterItemRequest{ID: id, StartPrice: d("10")})
	}
	closing := NewClosingService(&flakyStore{Store: f.store, failItem: "b"}, lock.NewKeyed(time.Second), time.Minute, 10, discardLogger())

	now := f.now.Add(2 * time.Hour)
	outcomes, err := closing.CloseDueAuctions(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, 2, len(outcomes))

	check.Equal(t, domain.ItemClosed, f.item(t, "a").Status)
	check.Equal(t, domain.ItemActive, f.item(t, "b").Status)
	check.Equal(t, domain.ItemClosed, f.item(t, "c").Status)

	// Nothing from the failed item's transaction was kept.
	_, err = f.store.Sales().GetByItem(ctx, "b")
	check.True(t, errors.Is(err, domain.ErrNotFound))

	// The next sweep without the fault closes it.
	retry, err := f.closing.CloseDueAuctions(ctx, now)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(retry))
	check.Equal(t, "b", retry[0].ItemID)
}

func TestCloseDueAuctions_StuckItemDoesNotBlockLaterOnes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "a", StartPrice: d("10"), EndTime: f.now.Add(30 * time.Minute)})
	f.register(t, RegisterItemRequest{ID: "b", StartPrice: d("10"), EndTime: f.now.Add(time.Hour)})
	f.register(t, RegisterItemRequest{ID: "c", StartPrice: d("10"), EndTime: f.now.Add(time.Hour)})
	closing := NewClosingService(&flakyStore{Store: f.store, failItem: "a"}, lock.NewKeyed(time.Second), time.Minute, 1, discardLogger())

	now := f.now.Add(2 * time.Hour)
	outcomes, err := closing.CloseDueAuctions(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, 2, len(outcomes))
	check.Equal(t, domain.ItemActive, f.item(t, "a").Status)
	check.Equal(t, domain.ItemClosed, f.item(t, "b").Status)
	check.Equal(t, domain.ItemClosed, f.item(t, "c").Status)

	// Repeated passes keep retrying only the stuck item.
	for range 3 {
		again, err := closing.CloseDueAuctions(ctx, now)
		assert.NoError(t, err)
		check.Equal(t, 0, len(again))
	}
	check.Equal(t, domain.ItemActive, f.item(t, "a").Status)
}

type brokenPendingStore struct {
	domain.Store
}

func (s brokenPendingStore) Items() domain.ItemStore {
	return brokenPendingItems{ItemStore: s.Store.Items()}
}

type brokenPendingItems struct {
	domain.ItemStore
}

func (brokenPendingItems) ListPendingStart(context.Context, time.Time, domain.Cursor, int) ([]domain.Item, error) {
	return nil, fmt.Errorf("%w: connection reset", domain.ErrStorage)
}

func TestRunOnce_ClosesWhenActivationScanFails(t *testing.T) {
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})
	f.now = f.now.Add(2 * time.Hour)
	closing := NewClosingService(brokenPendingStore{Store: f.store}, lock.NewKeyed(time.Second), time.Minute, 10, discardLogger()).
		WithClock(func() time.Time { return f.now })

	err := closing.RunOnce(context.Background())
	check.True(t, errors.Is(err, domain.ErrStorage))
	check.Equal(t, domain.ItemClosed, f.item(t, "item-1").Status)
}

func TestActivateDueAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	it := f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10"), StartTime: f.now.Add(time.Minute), EndTime: f.now.Add(time.Hour)})
	check.Equal(t, domain.ItemPending, it.Status)

	opened, err := f.closing.ActivateDue(ctx, f.now)
	assert.NoError(t, err)
	check.Equal(t, 0, opened)

	f.now = f.now.Add(time.Minute)
	opened, err = f.closing.ActivateDue(ctx, f.now)
	assert.NoError(t, err)
	check.Equal(t, 1, opened)
	check.Equal(t, domain.ItemActive, f.item(t, "item-1").Status)

	cancelled, err := f.closing.CancelAuction(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, domain.ItemCancelled, cancelled.Status)

	_, err = f.closing.CancelAuction(ctx, "item-1")
	check.True(t, errors.Is(err, domain.ErrAlreadyClosed))

	_, err = f.store.Sales().GetByItem(ctx, "item-1")
	check.True(t, errors.Is(err, domain.ErrNotFound))
	check.Equal(t, []domain.AuctionEventType{domain.EventAuctionOpened, domain.EventCancelled}, f.bus.types())
}

func TestBuyNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10"), BuyNowPrice: nd("100")})
	f.register(t, RegisterItemRequest{ID: "plain", StartPrice: d("10")})

	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20")})
	assert.NoError(t, err)

	_, err = f.bids.BuyNow(ctx, "plain", "B")
	check.True(t, errors.Is(err, domain.ErrBuyNowUnavailable))
	_, err = f.bids.BuyNow(ctx, "item-1", "seller")
	check.True(t, errors.Is(err, domain.ErrSelfBid))

	o, err := f.bids.BuyNow(ctx, "item-1", "B")
	assert.NoError(t, err)
	check.Equal(t, domain.SaleSold, o.Kind)
	check.Equal(t, domain.SourceBuyNow, o.Source)
	check.Equal(t, "100", o.FinalPrice.Decimal.String())

	it := f.item(t, "item-1")
	check.Equal(t, domain.ItemSold, it.Status)
	check.Equal(t, "B", it.LeaderID)

	_, err = f.bids.BuyNow(ctx, "item-1", "C")
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))

	lost := f.notifications(t, "A")
	assert.Equal(t, 1, len(lost))
	check.Equal(t, domain.NotifyAuctionLost, lost[0].Kind)

	// The closer must leave a bought item alone.
	outcomes, err := f.closing.CloseDueAuctions(ctx, f.now.Add(2*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, 1, len(outcomes))
	check.Equal(t, "plain", outcomes[0].ItemID)
}

func TestMinimumNextBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})

	minimum, err := f.bids.MinimumNextBid(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, "11", minimum.String())

	_, err = f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("1000")})
	assert.NoError(t, err)
	minimum, err = f.bids.MinimumNextBid(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, "1025", minimum.String())

	_, err = f.bids.MinimumNextBid(ctx, "nope")
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegisterItem_Invalid(t *testing.T) {
	f := newFixture(t, auction.DefaultSchedule())
	_, err := f.bids.RegisterItem(context.Background(), RegisterItemRequest{
		ID:           "item-1",
		SellerID:     "seller",
		StartPrice:   d("10"),
		ReservePrice: nd("5"),
		StartTime:    f.now,
		EndTime:      f.now.Add(time.Hour),
	})
	check.True(t, errors.Is(err, domain.ErrInvalidItem))
}

type recordingDispatcher struct {
	failFor string
	sent    []string
}

func (r *recordingDispatcher) Dispatch(_ context.Context, n domain.Notification) error {
	if n.UserID == r.failFor {
		return errors.New("smtp down")
	}
	r.sent = append(r.sent, n.ID)
	return nil
}

func TestOutboxRelay_RetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	ok := domain.NewNotification("good", "item-1", domain.NoBidsPayload{Title: "Lamp"}, f.now)
	bad := domain.NewNotification("bad", "item-1", domain.NoBidsPayload{Title: "Lamp"}, f.now)
	assert.NoError(t, f.store.Outbox().Enqueue(ctx, ok, bad))

	disp := &recordingDispatcher{failFor: "bad"}
	relay := NewOutboxRelay(f.store.Outbox(), disp, time.Second, 10, 2, discardLogger())

	n, err := relay.RunOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	check.Equal(t, []string{ok.ID}, disp.sent)

	n, err = relay.RunOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	pending, err := f.store.Outbox().ListPending(ctx, 10, 2)
	assert.NoError(t, err)
	check.Equal(t, 0, len(pending))

	stored := f.notifications(t, "bad")
	assert.Equal(t, 1, len(stored))
	check.Equal(t, 2, stored[0].Attempts)
	check.Equal(t, "smtp down", stored[0].LastError)
}

type memArchiver struct {
	records map[string]domain.AuctionRecord
}

func (m *memArchiver) ArchiveAuction(_ context.Context, rec domain.AuctionRecord) (string, error) {
	m.records[rec.Item.ID] = rec
	return "archive/" + rec.Item.ID + ".json", nil
}

func (m *memArchiver) LoadAuction(_ context.Context, itemID string, _ time.Time) (domain.AuctionRecord, error) {
	rec, ok := m.records[itemID]
	if !ok {
		return domain.AuctionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func TestArchiveService_RunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})
	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("15")})
	assert.NoError(t, err)
	f.now = f.now.Add(2 * time.Hour)
	_, err = f.closing.CloseDueAuctions(ctx, f.now)
	assert.NoError(t, err)

	arch := &memArchiver{records: map[string]domain.AuctionRecord{}}
	svc := NewArchiveService(f.store, arch, time.Minute, 10, discardLogger())

	n, err := svc.RunOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	rec := arch.records["item-1"]
	check.Equal(t, 1, len(rec.Bids))
	check.Equal(t, domain.SaleSold, rec.Outcome.Kind)

	n, err = svc.RunOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	loaded, err := svc.Archived(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, "A", loaded.Outcome.BuyerID)
}

func TestArchiveService_ArchivedRequiresArchivedSale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	f.register(t, RegisterItemRequest{ID: "open", StartPrice: d("10")})
	f.register(t, RegisterItemRequest{ID: "closed", StartPrice: d("10"), EndTime: f.now.Add(time.Minute)})
	f.now = f.now.Add(2 * time.Minute)
	_, err := f.closing.CloseDueAuctions(ctx, f.now)
	assert.NoError(t, err)

	svc := NewArchiveService(f.store, &memArchiver{records: map[string]domain.AuctionRecord{}}, time.Minute, 10, discardLogger())

	_, err = svc.Archived(ctx, "open")
	check.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = svc.Archived(ctx, "closed")
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

type memCache struct {
	mu    sync.Mutex
	items map[string]domain.Item
	dels  []string
}

func newMemCache() *memCache { return &memCache{items: map[string]domain.Item{}} }

func (m *memCache) Set(_ context.Context, it domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return nil
}

func (m *memCache) Get(_ context.Context, id string) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return it, nil
}

func (m *memCache) Invalidate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	m.dels = append(m.dels, id)
	return nil
}

func TestItemCache_SetWhileLiveInvalidatedWhenFinished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auction.DefaultSchedule())
	cache := newMemCache()
	f.bids.WithCache(cache)
	f.closing.WithCache(cache)

	f.register(t, RegisterItemRequest{ID: "item-1", StartPrice: d("10")})
	f.register(t, RegisterItemRequest{ID: "item-2", StartPrice: d("10")})

	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{ItemID: "item-1", BidderID: "A", Amount: d("20")})
	assert.NoError(t, err)
	cached, err := cache.Get(ctx, "item-1")
	assert.NoError(t, err)
	check.Equal(t, "A", cached.LeaderID)

	_, err = f.closing.CancelAuction(ctx, "item-2")
	assert.NoError(t, err)
	_, err = cache.Get(ctx, "item-2")
	check.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.closing.CloseDueAuctions(ctx, f.now.Add(2*time.Hour))
	assert.NoError(t, err)
	_, err = cache.Get(ctx, "item-1")
	check.True(t, errors.Is(err, domain.ErrNotFound))
	check.Equal(t, []string{"item-2", "item-1"}, cache.dels)

	// A finished item is read from the store once it leaves the cache.
	minimum, err := f.bids.MinimumNextBid(ctx, "item-1")
	assert.NoError(t, err)
	want := auction.DefaultSchedule().MinimumNext(f.item(t, "item-1").CurrentPrice)
	check.True(t, want.Equal(minimum))
}
