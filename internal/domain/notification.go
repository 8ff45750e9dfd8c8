package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotificationKind tags the payload carried by a Notification.
type NotificationKind string

const (
	NotifyOutbid        NotificationKind = "outbid"
	NotifyAuctionWon    NotificationKind = "auction_won"
	NotifyItemSold      NotificationKind = "item_sold"
	NotifyAuctionLost   NotificationKind = "auction_lost"
	NotifyReserveNotMet NotificationKind = "reserve_not_met"
	NotifyNoBids        NotificationKind = "no_bids"
)

// NotificationPayload is implemented by every kind-specific payload.
type NotificationPayload interface {
	Kind() NotificationKind
	Message() string
}

// OutbidPayload tells a bidder that someone else now leads.
type OutbidPayload struct {
	Title        string          `json:"title"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MinimumNext  decimal.Decimal `json:"minimum_next"`
}

func (OutbidPayload) Kind() NotificationKind { return NotifyOutbid }
func (p OutbidPayload) Message() string {
	return fmt.Sprintf("You have been outbid on %q. Current price is %s, bid %s or more to lead.",
		p.Title, p.CurrentPrice.StringFixed(2), p.MinimumNext.StringFixed(2))
}

// AuctionWonPayload goes to the buyer of a sold item.
type AuctionWonPayload struct {
	Title      string          `json:"title"`
	FinalPrice decimal.Decimal `json:"final_price"`
}

func (AuctionWonPayload) Kind() NotificationKind { return NotifyAuctionWon }
func (p AuctionWonPayload) Message() string {
	return fmt.Sprintf("Congratulations! You won %q for %s.", p.Title, p.FinalPrice.StringFixed(2))
}

// ItemSoldPayload goes to the seller of a sold item.
type ItemSoldPayload struct {
	Title      string          `json:"title"`
	BuyerID    string          `json:"buyer_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
}

func (ItemSoldPayload) Kind() NotificationKind { return NotifyItemSold }
func (p ItemSoldPayload) Message() string {
	return fmt.Sprintf("Your item %q sold for %s.", p.Title, p.FinalPrice.StringFixed(2))
}

// AuctionLostPayload goes to every bidder who did not buy the item.
type AuctionLostPayload struct {
	Title         string `json:"title"`
	ReserveNotMet bool   `json:"reserve_not_met"`
}

func (AuctionLostPayload) Kind() NotificationKind { return NotifyAuctionLost }
func (p AuctionLostPayload) Message() string {
	if p.ReserveNotMet {
		return fmt.Sprintf("The auction for %q ended without meeting the reserve price.", p.Title)
	}
	return fmt.Sprintf("The auction for %q has ended. Unfortunately, you did not win.", p.Title)
}

// ReserveNotMetPayload goes to the seller when bids stayed below reserve.
type ReserveNotMetPayload struct {
	Title        string          `json:"title"`
	HighestBid   decimal.Decimal `json:"highest_bid"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
}

func (ReserveNotMetPayload) Kind() NotificationKind { return NotifyReserveNotMet }
func (p ReserveNotMetPayload) Message() string {
	return fmt.Sprintf("Your auction for %q ended without meeting the reserve of %s. Highest bid was %s.",
		p.Title, p.ReservePrice.StringFixed(2), p.HighestBid.StringFixed(2))
}

// NoBidsPayload goes to the seller when nobody bid.
type NoBidsPayload struct {
	Title string `json:"title"`
}

func (NoBidsPayload) Kind() NotificationKind { return NotifyNoBids }
func (p NoBidsPayload) Message() string {
	return fmt.Sprintf("Your auction for %q ended with no bids.", p.Title)
}

// Notification is one message for one user, persisted in the outbox until a
// dispatcher confirms delivery. ID doubles as the downstream idempotency key.
type Notification struct {
	ID           string
	UserID       string
	ItemID       string
	Kind         NotificationKind
	Payload      NotificationPayload
	Message      string
	Link         string
	Attempts     int
	LastError    string
	DispatchedAt *time.Time
	CreatedAt    time.Time
}

// NewNotification builds a pending notification for userID about itemID.
func NewNotification(userID, itemID string, p NotificationPayload, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		ItemID:    itemID,
		Kind:      p.Kind(),
		Payload:   p,
		Message:   p.Message(),
		Link:      ItemLink(itemID),
		CreatedAt: now,
	}
}

// ItemLink is the relative link clients use to open an item.
func ItemLink(itemID string) string {
	return "/items/" + itemID
}

type notificationJSON struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	ItemID       string           `json:"item_id"`
	Kind         NotificationKind `json:"kind"`
	Payload      json.RawMessage  `json:"payload"`
	Message      string           `json:"message"`
	Link         string           `json:"link"`
	Attempts     int              `json:"attempts"`
	LastError    string           `json:"last_error,omitempty"`
	DispatchedAt *time.Time       `json:"dispatched_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// MarshalJSON encodes the payload next to its kind tag.
func (n Notification) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage("null")
	if n.Payload != nil {
		b, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, fmt.Errorf("domain: marshal %s payload: %w", n.Kind, err)
		}
		raw = b
	}
	return json.Marshal(notificationJSON{
		ID:           n.ID,
		UserID:       n.UserID,
		ItemID:       n.ItemID,
		Kind:         n.Kind,
		Payload:      raw,
		Message:      n.Message,
		Link:         n.Link,
		Attempts:     n.Attempts,
		LastError:    n.LastError,
		DispatchedAt: n.DispatchedAt,
		CreatedAt:    n.CreatedAt,
	})
}

// UnmarshalJSON decodes the payload into the concrete type named by kind.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var wire notificationJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.Kind, wire.Payload)
	if err != nil {
		return err
	}
	*n = Notification{
		ID:           wire.ID,
		UserID:       wire.UserID,
		ItemID:       wire.ItemID,
		Kind:         wire.Kind,
		Payload:      payload,
		Message:      wire.Message,
		Link:         wire.Link,
		Attempts:     wire.Attempts,
		LastError:    wire.LastError,
		DispatchedAt: wire.DispatchedAt,
		CreatedAt:    wire.CreatedAt,
	}
	return nil
}

// DecodePayload unmarshals raw into the payload type for kind. A null or empty
// payload yields a nil payload.
func DecodePayload(kind NotificationKind, raw []byte) (NotificationPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p NotificationPayload
	switch kind {
	case NotifyOutbid:
		var v OutbidPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", kind, err)
		}
		p = v
	case NotifyAuctionWon:
		var v AuctionWonPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", kind, err)
		}
		p = v
	case NotifyItemSold:
		var v ItemSoldPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", kind, err)
		}
		p = v
	case NotifyAuctionLost:
		var v AuctionLostPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", kind, err)
		}
		p = v
	case NotifyReserveNotMet:
		var v ReserveNotMetPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", kind, err)
		}
		p = v
	case NotifyNoBids:
		var v NoBidsPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", kind, err)
		}
		p = v
	default:
		return nil, fmt.Errorf("domain: unknown notification kind %q", kind)
	}
	return p, nil
}
