package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus is the lifecycle state of an auctioned item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemActive    ItemStatus = "active"
	ItemSold      ItemStatus = "sold"
	ItemClosed    ItemStatus = "closed"
	ItemCancelled ItemStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s ItemStatus) Terminal() bool {
	return s == ItemSold || s == ItemClosed || s == ItemCancelled
}

// Item is the auction aggregate. CurrentPrice, LeaderID, LeaderCeiling,
// EndTime and Status only change through the bid and closing services, under
// the item's serialization point.
type Item struct {
	ID           string              `json:"id"`
	SellerID     string              `json:"seller_id"`
	Title        string              `json:"title"`
	StartPrice   decimal.Decimal     `json:"start_price"`
	ReservePrice decimal.NullDecimal `json:"reserve_price"`
	BuyNowPrice  decimal.NullDecimal `json:"buy_now_price"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`

	CurrentPrice   decimal.Decimal     `json:"current_price"`
	LeaderID       string              `json:"leader_id,omitempty"`
	LeaderCeiling  decimal.NullDecimal `json:"leader_ceiling"`
	Status         ItemStatus          `json:"status"`
	ExtensionCount int                 `json:"extension_count"`

	// Version is the optimistic concurrency token; stores reject an update
	// whose Version does not match the persisted one.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLeader reports whether at least one bid has been accepted.
func (it Item) HasLeader() bool {
	return it.LeaderID != ""
}

// Biddable reports whether the item accepts bids at now.
func (it Item) Biddable(now time.Time) bool {
	return it.Status == ItemActive && now.Before(it.EndTime)
}

// ReserveMet reports whether the current price satisfies the reserve.
// Items without a reserve always satisfy it.
func (it Item) ReserveMet() bool {
	if !it.ReservePrice.Valid {
		return true
	}
	return it.CurrentPrice.GreaterThanOrEqual(it.ReservePrice.Decimal)
}

// Validate checks the listing invariants for a newly registered item.
func (it Item) Validate() error {
	var errs []string
	if strings.TrimSpace(it.ID) == "" {
		errs = append(errs, "id is required")
	}
	if strings.TrimSpace(it.SellerID) == "" {
		errs = append(errs, "seller_id is required")
	}
	if !it.StartPrice.IsPositive() {
		errs = append(errs, "start_price must be > 0")
	}
	if it.ReservePrice.Valid && it.ReservePrice.Decimal.LessThan(it.StartPrice) {
		errs = append(errs, "reserve_price must be >= start_price")
	}
	if it.BuyNowPrice.Valid && it.BuyNowPrice.Decimal.LessThan(it.StartPrice) {
		errs = append(errs, "buy_now_price must be >= start_price")
	}
	for _, m := range []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"start_price", decimal.NewNullDecimal(it.StartPrice)},
		{"reserve_price", it.ReservePrice},
		{"buy_now_price", it.BuyNowPrice},
	} {
		if m.value.Valid && !ValidMoney(m.value.Decimal) {
			errs = append(errs, fmt.Sprintf("%s must have at most %d decimal places", m.name, MoneyScale))
		}
	}
	if it.StartTime.IsZero() || it.EndTime.IsZero() {
		errs = append(errs, "start_time and end_time are required")
	} else if !it.EndTime.After(it.StartTime) {
		errs = append(errs, "end_time must be after start_time")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidItem, strings.Join(errs, "; "))
	}
	return nil
}
