package auction

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

func ceiling(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

func apply(st State, r Resolution) State {
	return State{CurrentPrice: r.Price, LeaderID: r.LeaderID, LeaderCeiling: r.LeaderCeiling}
}

func TestResolve_LeaderCeilingHoldsAgainstDirectBid(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("50")}

	r := Resolve(st, Offer{BidderID: "A", Amount: d("55"), Ceiling: ceiling("100")}, s)
	check.Equal(t, "A", r.LeaderID)
	check.Equal(t, "55", r.Price.String())
	check.True(t, r.SubmitterLeads)
	st = apply(st, r)

	offer := Offer{BidderID: "B", Amount: d("80")}
	assert.NoError(t, Validate(st, offer, s))
	r = Resolve(st, offer, s)
	check.Equal(t, "A", r.LeaderID)
	check.Equal(t, "85", r.Price.String())
	check.False(t, r.SubmitterLeads)
	check.Equal(t, "", r.DisplacedID)
	check.Equal(t, "100", r.LeaderCeiling.Decimal.String())
}

func TestValidate_RejectsSubCentAmounts(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("50")}

	err := Validate(st, Offer{BidderID: "A", Amount: d("55.005")}, s)
	check.True(t, errors.Is(err, domain.ErrInvalidAmount))

	err = Validate(st, Offer{BidderID: "A", Amount: d("55"), Ceiling: ceiling("99.999")}, s)
	check.True(t, errors.Is(err, domain.ErrInvalidAmount))

	check.NoError(t, Validate(st, Offer{BidderID: "A", Amount: d("55.000"), Ceiling: ceiling("99.90")}, s))
}

func TestResolve_OffGridPriceRoundsUpFromPrice(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("50")}

	st = apply(st, Resolve(st, Offer{BidderID: "A", Amount: d("57"), Ceiling: ceiling("100")}, s))
	check.Equal(t, "57", st.CurrentPrice.String())

	// 80 + 5 = 85 lies between grid points 82 and 87 counted from 57.
	r := Resolve(st, Offer{BidderID: "B", Amount: d("80")}, s)
	check.Equal(t, "A", r.LeaderID)
	check.Equal(t, "87", r.Price.String())
}

func TestResolve_HigherCeilingTakesLead(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("85"), LeaderID: "A", LeaderCeiling: ceiling("100")}

	r := Resolve(st, Offer{BidderID: "B", Amount: d("90"), Ceiling: ceiling("150")}, s)
	check.Equal(t, "B", r.LeaderID)
	check.Equal(t, "105", r.Price.String())
	check.Equal(t, "A", r.DisplacedID)
	check.Equal(t, "150", r.LeaderCeiling.Decimal.String())
}

func TestResolve_DirectBidAboveCeilingKeepsDaylight(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("55"), LeaderID: "A", LeaderCeiling: ceiling("60")}

	r := Resolve(st, Offer{BidderID: "B", Amount: d("80")}, s)
	check.Equal(t, "B", r.LeaderID)
	check.Equal(t, "65", r.Price.String())
	// The unused part of the direct bid becomes B's standing maximum.
	check.True(t, r.LeaderCeiling.Valid)
	check.Equal(t, "80", r.LeaderCeiling.Decimal.String())
}

func TestResolve_TieFavoursStandingLeader(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("55"), LeaderID: "A", LeaderCeiling: ceiling("100")}

	r := Resolve(st, Offer{BidderID: "B", Amount: d("100")}, s)
	check.Equal(t, "A", r.LeaderID)
	check.Equal(t, "100", r.Price.String())
}

func TestResolve_LeaderWithoutCeilingIsOvertaken(t *testing.T) {
	s := DefaultSchedule()
	st := State{CurrentPrice: d("10")}

	r := Resolve(st, Offer{BidderID: "X", Amount: d("20")}, s)
	check.Equal(t, "X", r.LeaderID)
	check.Equal(t, "20", r.Price.String())
	check.False(t, r.LeaderCeiling.Valid)
	st = apply(st, r)

	r = Resolve(st, Offer{BidderID: "Y", Amount: d("45"), Ceiling: ceiling("60")}, s)
	check.Equal(t, "Y", r.LeaderID)
	check.Equal(t, "45", r.Price.String())
	check.Equal(t, "X", r.DisplacedID)
	check.Equal(t, "60", r.LeaderCeiling.Decimal.String())
}

func TestResolve_LeaderRaisesOwnCeiling(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("55"), LeaderID: "A", LeaderCeiling: ceiling("100")}

	r := Resolve(st, Offer{BidderID: "A", Amount: d("60")}, s)
	check.Equal(t, "A", r.LeaderID)
	check.Equal(t, "60", r.Price.String())
	check.Equal(t, "100", r.LeaderCeiling.Decimal.String())
	check.True(t, r.SubmitterLeads)

	r = Resolve(apply(st, r), Offer{BidderID: "A", Amount: d("65"), Ceiling: ceiling("200")}, s)
	check.Equal(t, "65", r.Price.String())
	check.Equal(t, "200", r.LeaderCeiling.Decimal.String())
}

func TestValidate(t *testing.T) {
	s := FlatSchedule(d("5"))
	st := State{CurrentPrice: d("50")}

	err := Validate(st, Offer{BidderID: "B", Amount: d("54.99")}, s)
	check.True(t, errors.Is(err, domain.ErrBidTooLow))

	err = Validate(st, Offer{BidderID: "B", Amount: d("60"), Ceiling: ceiling("59")}, s)
	check.True(t, errors.Is(err, domain.ErrInvalidProxyCeiling))

	check.NoError(t, Validate(st, Offer{BidderID: "B", Amount: d("55"), Ceiling: ceiling("55")}, s))
}

func TestResolve_PriceNeverDecreases(t *testing.T) {
	s := DefaultSchedule()
	rng := rand.New(rand.NewSource(42))
	bidders := []string{"a", "b", "c", "d"}
	start := d("10")
	st := State{CurrentPrice: start}

	for i := 0; i < 500; i++ {
		next := s.MinimumNext(st.CurrentPrice)
		o := Offer{
			BidderID: bidders[rng.Intn(len(bidders))],
			Amount:   next.Add(decimal.NewFromInt(int64(rng.Intn(4))).Mul(d("0.5"))),
		}
		if rng.Intn(2) == 0 {
			o.Ceiling = decimal.NewNullDecimal(o.Amount.Add(decimal.NewFromInt(int64(rng.Intn(40)))))
		}
		assert.NoError(t, Validate(st, o, s))

		r := Resolve(st, o, s)
		check.True(t, r.Price.GreaterThanOrEqual(st.CurrentPrice))
		check.True(t, r.Price.GreaterThanOrEqual(start))
		if r.LeaderCeiling.Valid {
			check.True(t, r.LeaderCeiling.Decimal.GreaterThanOrEqual(r.Price))
		}
		if r.SubmitterLeads {
			check.Equal(t, o.BidderID, r.LeaderID)
		}
		st = apply(st, r)
	}
}
