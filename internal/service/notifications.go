package service

import (
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// outcomeNotifications builds the messages owed to the seller and bidders
// once an item is finalized.
func outcomeNotifications(it domain.Item, o domain.SaleOutcome, bidders []string, now time.Time) []domain.Notification {
	var out []domain.Notification
	switch o.Kind {
	case domain.SaleSold:
		price := o.FinalPrice.Decimal
		out = append(out,
			domain.NewNotification(o.BuyerID, it.ID, domain.AuctionWonPayload{Title: it.Title, FinalPrice: price}, now),
			domain.NewNotification(it.SellerID, it.ID, domain.ItemSoldPayload{Title: it.Title, BuyerID: o.BuyerID, FinalPrice: price}, now),
		)
		for _, b := range bidders {
			if b == o.BuyerID {
				continue
			}
			out = append(out, domain.NewNotification(b, it.ID, domain.AuctionLostPayload{Title: it.Title}, now))
		}
	case domain.SaleReserveNotMet:
		out = append(out, domain.NewNotification(it.SellerID, it.ID, domain.ReserveNotMetPayload{
			Title:        it.Title,
			HighestBid:   it.CurrentPrice,
			ReservePrice: it.ReservePrice.Decimal,
		}, now))
		for _, b := range bidders {
			out = append(out, domain.NewNotification(b, it.ID, domain.AuctionLostPayload{Title: it.Title, ReserveNotMet: true}, now))
		}
	case domain.SaleNoBids:
		out = append(out, domain.NewNotification(it.SellerID, it.ID, domain.NoBidsPayload{Title: it.Title}, now))
	}
	return out
}
