// Package auction holds the pure bidding rules: the increment schedule, proxy
// resolution and the anti-sniping policy. Nothing here touches storage or the
// clock.
package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Tier applies Step to every price strictly below Below.
type Tier struct {
	Below decimal.Decimal
	Step  decimal.Decimal
}

// Schedule maps a current price to the minimum raise. Prices at or above the
// last tier use Top.
type Schedule struct {
	tiers []Tier
	top   decimal.Decimal
}

// NewSchedule validates and returns a schedule. Thresholds must strictly
// ascend and steps must be positive and non-decreasing.
func NewSchedule(tiers []Tier, top decimal.Decimal) (Schedule, error) {
	if !top.IsPositive() {
		return Schedule{}, errors.New("auction: top increment must be > 0")
	}
	if !domain.ValidMoney(top) {
		return Schedule{}, fmt.Errorf("auction: top increment %s must use at most %d decimal places", top, domain.MoneyScale)
	}
	prevBelow := decimal.Zero
	prevStep := decimal.Zero
	for i, t := range tiers {
		if !t.Below.GreaterThan(prevBelow) {
			return Schedule{}, fmt.Errorf("auction: tier %d threshold %s must exceed %s", i, t.Below, prevBelow)
		}
		if !t.Step.IsPositive() {
			return Schedule{}, fmt.Errorf("auction: tier %d step must be > 0", i)
		}
		if !domain.ValidMoney(t.Step) || !domain.ValidMoney(t.Below) {
			return Schedule{}, fmt.Errorf("auction: tier %d must use at most %d decimal places", i, domain.MoneyScale)
		}
		if t.Step.LessThan(prevStep) {
			return Schedule{}, fmt.Errorf("auction: tier %d step %s is smaller than previous %s", i, t.Step, prevStep)
		}
		prevBelow, prevStep = t.Below, t.Step
	}
	if top.LessThan(prevStep) {
		return Schedule{}, fmt.Errorf("auction: top increment %s is smaller than last tier step %s", top, prevStep)
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return Schedule{tiers: cp, top: top}, nil
}

// FlatSchedule uses the same step at every price.
func FlatSchedule(step decimal.Decimal) Schedule {
	return Schedule{top: step}
}

// DefaultSchedule is the standard tier table.
func DefaultSchedule() Schedule {
	return Schedule{
		tiers: []Tier{
			{Below: decimal.NewFromInt(10), Step: decimal.RequireFromString("0.50")},
			{Below: decimal.NewFromInt(50), Step: decimal.NewFromInt(1)},
			{Below: decimal.NewFromInt(100), Step: decimal.RequireFromString("2.50")},
			{Below: decimal.NewFromInt(500), Step: decimal.NewFromInt(5)},
			{Below: decimal.NewFromInt(1000), Step: decimal.NewFromInt(10)},
		},
		top: decimal.NewFromInt(25),
	}
}

// Increment returns the minimum raise at price.
func (s Schedule) Increment(price decimal.Decimal) decimal.Decimal {
	for _, t := range s.tiers {
		if price.LessThan(t.Below) {
			return t.Step
		}
	}
	return s.top
}

// MinimumNext is the smallest acceptable next bid at price.
func (s Schedule) MinimumNext(price decimal.Decimal) decimal.Decimal {
	return price.Add(s.Increment(price))
}

// Tiers returns a copy of the configured tiers and the top step.
func (s Schedule) Tiers() ([]Tier, decimal.Decimal) {
	cp := make([]Tier, len(s.tiers))
	copy(cp, s.tiers)
	return cp, s.top
}
