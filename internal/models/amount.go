package models

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a currency amount into integer base units,
// e.g. 1.5 with 7 decimals becomes "15000000" stroops
func ToBaseUnits(amount decimal.Decimal, decimals int32) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("%w: negative amount %s", ErrInvalidInput, amount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidInput, amount, decimals)
	}
	return scaled.BigInt().String(), nil
}

// FromBaseUnits converts integer base units back into a currency amount
func FromBaseUnits(units string, decimals int32) (decimal.Decimal, error) {
	if units == "" {
		return decimal.Zero, nil
	}
	n, ok := new(big.Int).SetString(units, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid base unit value: %q", units)
	}
	return decimal.NewFromBigInt(n, -decimals), nil
}

// ParsePrice parses a user supplied price; it must be strictly positive
func ParsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q: %v", ErrInvalidInput, s, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	return price, nil
}
