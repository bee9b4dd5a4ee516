package service

import (
	"testing"

	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeProviderStatus(t *testing.T) {
	cases := map[string]string{
		"waiting":    domain.ShiftStatusWaiting,
		"pending":    domain.ShiftStatusConfirming,
		"processing": domain.ShiftStatusConfirming,
		"review":     domain.ShiftStatusConfirming,
		"settling":   domain.ShiftStatusConfirming,
		"settled":    domain.ShiftStatusSettled,
		"completed":  domain.ShiftStatusSettled,
		"refund":     domain.ShiftStatusRefunded,
		"refunding":  domain.ShiftStatusRefunded,
		"refunded":   domain.ShiftStatusRefunded,
		"expired":    domain.ShiftStatusRefunded,
		" SETTLED ":  domain.ShiftStatusSettled,
	}
	for provider, want := range cases {
		t.Run(provider, func(t *testing.T) {
			assert.Equal(t, want, normalizeProviderStatus(provider, domain.ShiftStatusWaiting))
		})
	}

	assert.Equal(t, domain.ShiftStatusConfirming, normalizeProviderStatus("multiple", domain.ShiftStatusConfirming))
	assert.Equal(t, domain.ShiftStatusWaiting, normalizeProviderStatus("", domain.ShiftStatusWaiting))
}

func TestShiftTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.ShiftStatusWaiting, domain.ShiftStatusConfirming, true},
		{domain.ShiftStatusWaiting, domain.ShiftStatusSettled, true},
		{domain.ShiftStatusWaiting, domain.ShiftStatusRefunded, true},
		{domain.ShiftStatusConfirming, domain.ShiftStatusSettled, true},
		{domain.ShiftStatusConfirming, domain.ShiftStatusRefunded, true},
		{domain.ShiftStatusConfirming, domain.ShiftStatusWaiting, false},
		{domain.ShiftStatusWaiting, domain.ShiftStatusCancelled, false},
		{domain.ShiftStatusSettled, domain.ShiftStatusRefunded, false},
		{domain.ShiftStatusCancelled, domain.ShiftStatusRefunded, false},
		{domain.ShiftStatusRefunded, domain.ShiftStatusSettled, false},
		{"unknown", domain.ShiftStatusSettled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, isTerminal(domain.ShiftStatusSettled))
	assert.True(t, isTerminal(domain.ShiftStatusRefunded))
	assert.True(t, isTerminal(domain.ShiftStatusCancelled))
	assert.False(t, isTerminal(domain.ShiftStatusWaiting))
	assert.False(t, isTerminal(domain.ShiftStatusConfirming))
}
