package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleKind is the result of closing an auction.
type SaleKind string

const (
	SaleSold          SaleKind = "sold"
	SaleReserveNotMet SaleKind = "reserve_not_met"
	SaleNoBids        SaleKind = "no_bids"
)

// SaleSource records which path finalized the item.
type SaleSource string

const (
	SourceAuction SaleSource = "auction"
	SourceBuyNow  SaleSource = "buy_now"
)

// SaleOutcome is written exactly once per finalized item.
type SaleOutcome struct {
	ItemID     string              `json:"item_id"`
	SellerID   string              `json:"seller_id"`
	BuyerID    string              `json:"buyer_id,omitempty"`
	FinalPrice decimal.NullDecimal `json:"final_price"`
	Kind       SaleKind            `json:"kind"`
	Source     SaleSource          `json:"source"`
	ClosedAt   time.Time           `json:"closed_at"`
	ArchivedAt *time.Time          `json:"archived_at,omitempty"`
}

// DecideOutcome derives the closing result from the item's final state.
func DecideOutcome(it Item, now time.Time) SaleOutcome {
	out := SaleOutcome{
		ItemID:   it.ID,
		SellerID: it.SellerID,
		Source:   SourceAuction,
		ClosedAt: now,
	}
	switch {
	case !it.HasLeader():
		out.Kind = SaleNoBids
	case !it.ReserveMet():
		out.Kind = SaleReserveNotMet
	default:
		out.Kind = SaleSold
		out.BuyerID = it.LeaderID
		out.FinalPrice = decimal.NewNullDecimal(it.CurrentPrice)
	}
	return out
}

// Status returns the item status implied by the outcome.
func (o SaleOutcome) Status() ItemStatus {
	if o.Kind == SaleSold {
		return ItemSold
	}
	return ItemClosed
}
