package auction

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// State is the part of an item the resolver reads.
type State struct {
	CurrentPrice  decimal.Decimal
	LeaderID      string
	LeaderCeiling decimal.NullDecimal
}

// Offer is an incoming bid.
type Offer struct {
	BidderID string
	Amount   decimal.Decimal
	Ceiling  decimal.NullDecimal
}

// max is the most the offer commits the bidder to.
func (o Offer) max() decimal.Decimal {
	if o.Ceiling.Valid {
		return o.Ceiling.Decimal
	}
	return o.Amount
}

// Resolution is the item state after an offer is applied.
type Resolution struct {
	LeaderID       string
	LeaderCeiling  decimal.NullDecimal
	Price          decimal.Decimal
	SubmitterLeads bool
	// DisplacedID is the previous leader when leadership changed hands.
	DisplacedID string
}

// StateOf extracts the resolver state from an item.
func StateOf(it domain.Item) State {
	return State{
		CurrentPrice:  it.CurrentPrice,
		LeaderID:      it.LeaderID,
		LeaderCeiling: it.LeaderCeiling,
	}
}

// Validate checks the offer against the current price. It returns
// ErrInvalidAmount, ErrBidTooLow (with the minimum) or ErrInvalidProxyCeiling.
func Validate(st State, o Offer, s Schedule) error {
	if !domain.ValidMoney(o.Amount) {
		return fmt.Errorf("%w: amount %s", domain.ErrInvalidAmount, o.Amount.String())
	}
	if o.Ceiling.Valid && !domain.ValidMoney(o.Ceiling.Decimal) {
		return fmt.Errorf("%w: proxy ceiling %s", domain.ErrInvalidAmount, o.Ceiling.Decimal.String())
	}
	minimum := s.MinimumNext(st.CurrentPrice)
	if o.Amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum is %s", domain.ErrBidTooLow, minimum.StringFixed(2))
	}
	if o.Ceiling.Valid && o.Ceiling.Decimal.LessThan(o.Amount) {
		return fmt.Errorf("%w: ceiling %s < amount %s", domain.ErrInvalidProxyCeiling,
			o.Ceiling.Decimal.String(), o.Amount.String())
	}
	return nil
}

// Resolve applies o to st. The offer must already pass Validate.
func Resolve(st State, o Offer, s Schedule) Resolution {
	pre := st.CurrentPrice
	inc := s.Increment(pre)
	incoming := o.max()

	// Same bidder, or first bid.
	if st.LeaderID == "" || st.LeaderID == o.BidderID {
		price := decimal.Max(o.Amount, pre)
		ceiling := st.LeaderCeiling
		if st.LeaderID != o.BidderID {
			ceiling = decimal.NullDecimal{}
		}
		if o.Ceiling.Valid {
			ceiling = o.Ceiling
		} else if ceiling.Valid && ceiling.Decimal.LessThan(price) {
			ceiling = decimal.NullDecimal{}
		}
		return Resolution{
			LeaderID:       o.BidderID,
			LeaderCeiling:  ceiling,
			Price:          roundUp(price, pre, inc, price),
			SubmitterLeads: true,
		}
	}

	// Incoming beats the standing leader.
	if !st.LeaderCeiling.Valid || st.LeaderCeiling.Decimal.LessThan(incoming) {
		price := o.Amount
		if st.LeaderCeiling.Valid {
			price = decimal.Min(incoming, st.LeaderCeiling.Decimal.Add(inc))
		}
		price = roundUp(price, pre, inc, incoming)
		ceiling := o.Ceiling
		if !ceiling.Valid && price.LessThan(o.Amount) {
			ceiling = decimal.NewNullDecimal(o.Amount)
		}
		return Resolution{
			LeaderID:       o.BidderID,
			LeaderCeiling:  ceiling,
			Price:          price,
			SubmitterLeads: true,
			DisplacedID:    st.LeaderID,
		}
	}

	// Standing leader holds; ties favour the earlier bid.
	leaderCeiling := st.LeaderCeiling.Decimal
	price := decimal.Min(leaderCeiling, incoming.Add(inc))
	return Resolution{
		LeaderID:      st.LeaderID,
		LeaderCeiling: st.LeaderCeiling,
		Price:         roundUp(price, pre, inc, leaderCeiling),
	}
}

// roundUp lifts p to the next pre+k*inc boundary, capped at limit, and never
// below pre.
func roundUp(p, pre, inc, limit decimal.Decimal) decimal.Decimal {
	if p.LessThanOrEqual(pre) {
		return pre
	}
	steps := p.Sub(pre).Div(inc).Ceil()
	out := pre.Add(steps.Mul(inc))
	if out.GreaterThan(limit) {
		out = limit
	}
	if out.LessThan(pre) {
		return pre
	}
	return out
}
