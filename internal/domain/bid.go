package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidKind distinguishes auction bids from buy-now purchases in the ledger.
type BidKind string

const (
	BidKindBid    BidKind = "bid"
	BidKindBuyNow BidKind = "buy_now"
)

// Bid is an immutable ledger entry. Amount and ProxyCeiling are what the
// bidder submitted, not the resolved display price.
type Bid struct {
	ID               string              `json:"id"`
	ItemID           string              `json:"item_id"`
	BidderID         string              `json:"bidder_id"`
	Amount           decimal.Decimal     `json:"amount"`
	ProxyCeiling     decimal.NullDecimal `json:"proxy_ceiling"`
	ResolvedAsLeader bool                `json:"resolved_as_leader"`
	Kind             BidKind             `json:"kind"`
	PlacedAt         time.Time           `json:"placed_at"`
}

// BidResult is the outcome of an accepted bid as seen by the submitter.
type BidResult struct {
	BidID       string          `json:"bid_id"`
	Accepted    bool            `json:"accepted"`
	Outbid      bool            `json:"outbid"`
	Price       decimal.Decimal `json:"price"`
	LeaderID    string          `json:"leader_id"`
	EndTime     time.Time       `json:"end_time"`
	Extended    bool            `json:"extended"`
	MinimumNext decimal.Decimal `json:"minimum_next"`
}
