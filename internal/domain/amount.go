package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("amount must be a positive decimal")

// Amounts are stored as NUMERIC(38,18).
const AmountScale = 18

var maxAmount = decimal.New(1, 38-AmountScale)

// ParseAmount parses a user-entered deposit amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.Truncate(AmountScale).Equal(d) {
		return decimal.Zero, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, AmountScale)
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, fmt.Errorf("%w: must be below %s", ErrInvalidAmount, maxAmount.String())
	}
	return d, nil
}

// EstimateSettle returns the display-only "creator receives" figure.
func EstimateSettle(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Truncate(8)
}

// SameAsset reports whether two token/network pairs name the same asset.
func SameAsset(tokenA, networkA, tokenB, networkB string) bool {
	return strings.EqualFold(strings.TrimSpace(tokenA), strings.TrimSpace(tokenB)) &&
		strings.EqualFold(strings.TrimSpace(networkA), strings.TrimSpace(networkB))
}
