package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func validItem() Item {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Item{
		ID:         "item-1",
		SellerID:   "seller-1",
		StartPrice: decimal.RequireFromString("10"),
		StartTime:  start,
		EndTime:    start.Add(24 * time.Hour),
	}
}

func TestItemValidate(t *testing.T) {
	check.NoError(t, validItem().Validate())

	cases := map[string]func(*Item){
		"zero start price": func(it *Item) { it.StartPrice = decimal.Zero },
		"reserve below start": func(it *Item) {
			it.ReservePrice = decimal.NewNullDecimal(decimal.RequireFromString("5"))
		},
		"buy now below start": func(it *Item) {
			it.BuyNowPrice = decimal.NewNullDecimal(decimal.RequireFromString("9.99"))
		},
		"end before start": func(it *Item) { it.EndTime = it.StartTime.Add(-time.Minute) },
		"missing seller":   func(it *Item) { it.SellerID = "" },
		"sub-cent start":   func(it *Item) { it.StartPrice = decimal.RequireFromString("10.005") },
		"sub-cent reserve": func(it *Item) {
			it.ReservePrice = decimal.NewNullDecimal(decimal.RequireFromString("20.125"))
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			it := validItem()
			mutate(&it)
			err := it.Validate()
			check.True(t, errors.Is(err, ErrInvalidItem))
		})
	}
}

func TestValidMoney(t *testing.T) {
	for in, want := range map[string]bool{
		"55":     true,
		"55.01":  true,
		"55.000": true,
		"55.005": false,
		"0.001":  false,
	} {
		check.Equal(t, want, ValidMoney(decimal.RequireFromString(in)))
	}
}

func TestDecideOutcome(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	it := validItem()
	it.CurrentPrice = it.StartPrice
	out := DecideOutcome(it, now)
	check.Equal(t, SaleNoBids, out.Kind)
	check.Equal(t, ItemClosed, out.Status())
	check.False(t, out.FinalPrice.Valid)

	it.LeaderID = "bidder-1"
	it.CurrentPrice = decimal.RequireFromString("45")
	it.ReservePrice = decimal.NewNullDecimal(decimal.RequireFromString("50"))
	out = DecideOutcome(it, now)
	check.Equal(t, SaleReserveNotMet, out.Kind)
	check.Equal(t, "", out.BuyerID)

	it.CurrentPrice = decimal.RequireFromString("50")
	out = DecideOutcome(it, now)
	check.Equal(t, SaleSold, out.Kind)
	check.Equal(t, ItemSold, out.Status())
	check.Equal(t, "bidder-1", out.BuyerID)
	check.Equal(t, "50", out.FinalPrice.Decimal.String())
}

func TestIsRetryable(t *testing.T) {
	check.True(t, IsRetryable(ErrBusy))
	check.True(t, IsRetryable(errors.Join(ErrStorage, errors.New("disk"))))
	check.False(t, IsRetryable(ErrBidTooLow))
}
