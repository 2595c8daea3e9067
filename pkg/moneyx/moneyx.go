package moneyx

import "github.com/shopspring/decimal"

// MustFromString parses a decimal string that is trusted to be valid,
// such as a column this process wrote itself.
func MustFromString(s string) decimal.Decimal {
	res, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return res
}
