package auction

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDefaultSchedule_Tiers(t *testing.T) {
	s := DefaultSchedule()
	cases := []struct {
		price string
		want  string
	}{
		{"0.01", "0.5"},
		{"9.99", "0.5"},
		{"10", "1"},
		{"49.99", "1"},
		{"50", "2.5"},
		{"99.99", "2.5"},
		{"100", "5"},
		{"499.99", "5"},
		{"500", "10"},
		{"999.99", "10"},
		{"1000", "25"},
		{"25000", "25"},
	}
	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			check.True(t, s.Increment(d(tc.price)).Equal(d(tc.want)))
		})
	}
}

func TestSchedule_MinimumNext(t *testing.T) {
	s := DefaultSchedule()
	check.Equal(t, "11", s.MinimumNext(d("10")).String())
	check.Equal(t, "21", s.MinimumNext(d("20")).String())
	check.Equal(t, "1025", s.MinimumNext(d("1000")).String())
}

func TestSchedule_Monotonic(t *testing.T) {
	s := DefaultSchedule()
	prev := decimal.Zero
	for p := d("0.25"); p.LessThan(d("2000")); p = p.Add(d("0.25")) {
		inc := s.Increment(p)
		check.True(t, inc.GreaterThanOrEqual(prev))
		prev = inc
	}
}

func TestNewSchedule_Rejects(t *testing.T) {
	_, err := NewSchedule([]Tier{{Below: d("10"), Step: d("1")}, {Below: d("5"), Step: d("2")}}, d("5"))
	check.Error(t, err)

	_, err = NewSchedule([]Tier{{Below: d("10"), Step: d("2")}, {Below: d("20"), Step: d("1")}}, d("5"))
	check.Error(t, err)

	_, err = NewSchedule([]Tier{{Below: d("10"), Step: d("0")}}, d("5"))
	check.Error(t, err)

	_, err = NewSchedule(nil, decimal.Zero)
	check.Error(t, err)

	_, err = NewSchedule([]Tier{{Below: d("10"), Step: d("0.125")}}, d("5"))
	check.Error(t, err)

	_, err = NewSchedule(nil, d("2.505"))
	check.Error(t, err)

	s, err := NewSchedule([]Tier{{Below: d("100"), Step: d("1")}}, d("5"))
	check.NoError(t, err)
	check.Equal(t, "1", s.Increment(d("99")).String())
	check.Equal(t, "5", s.Increment(d("100")).String())
}

func TestFlatSchedule(t *testing.T) {
	s := FlatSchedule(d("5"))
	check.Equal(t, "5", s.Increment(d("1")).String())
	check.Equal(t, "5", s.Increment(d("1000000")).String())
}
