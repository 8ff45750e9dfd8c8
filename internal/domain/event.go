package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionEventType names a live event published on the signal bus.
type AuctionEventType string

const (
	EventBidPlaced     AuctionEventType = "bid_placed"
	EventBoughtNow     AuctionEventType = "bought_now"
	EventAuctionClosed AuctionEventType = "auction_closed"
	EventAuctionOpened AuctionEventType = "auction_opened"
	EventCancelled     AuctionEventType = "auction_cancelled"
)

// AuctionEvent is the public, ceiling-free view of an item change.
type AuctionEvent struct {
	Type     AuctionEventType `json:"type"`
	ItemID   string           `json:"item_id"`
	Price    decimal.Decimal  `json:"price"`
	LeaderID string           `json:"leader_id,omitempty"`
	EndTime  time.Time        `json:"end_time"`
	Status   ItemStatus       `json:"status"`
	Extended bool             `json:"extended,omitempty"`
	Outcome  SaleKind         `json:"outcome,omitempty"`
	At       time.Time        `json:"at"`
}

// AuctionChannel is the pub/sub channel for one item's events.
func AuctionChannel(itemID string) string {
	return "auction:" + itemID
}

// AuctionChannelPattern matches every item channel.
const AuctionChannelPattern = "auction:*"

// NewAuctionEvent snapshots the public fields of it.
func NewAuctionEvent(t AuctionEventType, it Item, at time.Time) AuctionEvent {
	return AuctionEvent{
		Type:     t,
		ItemID:   it.ID,
		Price:    it.CurrentPrice,
		LeaderID: it.LeaderID,
		EndTime:  it.EndTime,
		Status:   it.Status,
		At:       at,
	}
}
