package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// itemView is the public shape of an item. The leader's proxy ceiling is
// never exposed; the reserve is reported only as met or not.
type itemView struct {
	ID             string              `json:"id"`
	SellerID       string              `json:"seller_id"`
	Title          string              `json:"title"`
	StartPrice     decimal.Decimal     `json:"start_price"`
	HasReserve     bool                `json:"has_reserve"`
	ReserveMet     bool                `json:"reserve_met"`
	BuyNowPrice    decimal.NullDecimal `json:"buy_now_price"`
	StartTime      time.Time           `json:"start_time"`
	EndTime        time.Time           `json:"end_time"`
	CurrentPrice   decimal.Decimal     `json:"current_price"`
	LeaderID       string              `json:"leader_id,omitempty"`
	Status         domain.ItemStatus   `json:"status"`
	ExtensionCount int                 `json:"extension_count"`
	MinimumNext    decimal.Decimal     `json:"minimum_next"`
}

func newItemView(it domain.Item, minimumNext decimal.Decimal) itemView {
	return itemView{
		ID:             it.ID,
		SellerID:       it.SellerID,
		Title:          it.Title,
		StartPrice:     it.StartPrice,
		HasReserve:     it.ReservePrice.Valid,
		BuyNowPrice:    it.BuyNowPrice,
		StartTime:      it.StartTime,
		EndTime:        it.EndTime,
		CurrentPrice:   it.CurrentPrice,
		LeaderID:       it.LeaderID,
		Status:         it.Status,
		ExtensionCount: it.ExtensionCount,
		ReserveMet:     it.HasLeader() && it.ReserveMet(),
		MinimumNext:    minimumNext,
	}
}

// bidView hides the proxy ceiling behind a flag.
type bidView struct {
	ID       string          `json:"id"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Proxy    bool            `json:"proxy"`
	Leading  bool            `json:"resolved_as_leader"`
	Kind     domain.BidKind  `json:"kind"`
	PlacedAt time.Time       `json:"placed_at"`
}

func newBidViews(bids []domain.Bid) []bidView {
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{
			ID:       b.ID,
			BidderID: b.BidderID,
			Amount:   b.Amount,
			Proxy:    b.ProxyCeiling.Valid,
			Leading:  b.ResolvedAsLeader,
			Kind:     b.Kind,
			PlacedAt: b.PlacedAt,
		})
	}
	return out
}
