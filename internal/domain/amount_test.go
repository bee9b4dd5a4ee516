package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 0.05 ")
	require.NoError(t, err)
	assert.Equal(t, "0.05", d.String())

	for _, raw := range []string{"", "abc", "0", "-1"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, ErrInvalidAmount, raw)
	}
}

func TestParseAmount_ColumnBounds(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{raw: "0.000000000000000001", ok: true},
		{raw: "0.050000000000000000000", ok: true},
		{raw: "99999999999999999999.999999999999999999", ok: true},
		{raw: "0.0000000000000000000001"},
		{raw: "100000000000000000000"},
		{raw: "123456789012345678901234"},
		{raw: "1e30"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseAmount(tt.raw)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestParseAmount_KeepsPrecision(t *testing.T) {
	// 0.1 + 0.2 is not 0.3 in float64
	a, err := ParseAmount("0.1")
	require.NoError(t, err)
	b, err := ParseAmount("0.2")
	require.NoError(t, err)
	assert.True(t, a.Add(b).Equal(decimal.RequireFromString("0.3")))
}

func TestEstimateSettle(t *testing.T) {
	amount := decimal.RequireFromString("0.05")
	rate := decimal.RequireFromString("3120.55")
	assert.Equal(t, "156.0275", EstimateSettle(amount, rate).String())
}

func TestSameAsset(t *testing.T) {
	assert.True(t, SameAsset("USDC", "Polygon", "usdc", "polygon"))
	assert.False(t, SameAsset("usdc", "ethereum", "usdc", "polygon"))
	assert.False(t, SameAsset("eth", "ethereum", "usdc", "ethereum"))
}
