package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places stored for every amount.
const MoneyScale = 2

// ValidMoney reports whether d is exact at MoneyScale. Trailing zeros are
// fine; 55.000 is valid, 55.005 is not.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}
