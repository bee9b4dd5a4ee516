package service

import (
	"strings"

	"github.com/ayo6706/shift-donations/internal/domain"
)

// Legal status transitions applied from provider snapshots. Cancellation is not listed
// here; it follows the provider's acceptance of an explicit cancel request.
var shiftTransitions = map[string]map[string]struct{}{
	domain.ShiftStatusWaiting: {
		domain.ShiftStatusConfirming: {},
		domain.ShiftStatusSettled:    {},
		domain.ShiftStatusRefunded:   {},
	},
	domain.ShiftStatusConfirming: {
		domain.ShiftStatusSettled:  {},
		domain.ShiftStatusRefunded: {},
	},
	domain.ShiftStatusSettled:   {},
	domain.ShiftStatusRefunded:  {},
	domain.ShiftStatusCancelled: {},
}

// cancellableFrom lists the local statuses a provider-accepted cancel may overwrite.
// Once a deposit is detected the shift can only settle or refund.
var cancellableFrom = []string{domain.ShiftStatusWaiting}

func isCancellable(status string) bool {
	return normalizeState(status) == domain.ShiftStatusWaiting
}

var providerStatuses = map[string]string{
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
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

// normalizeProviderStatus maps a provider status onto the local vocabulary.
// Unknown values keep current.
func normalizeProviderStatus(provider, current string) string {
	if mapped, ok := providerStatuses[normalizeState(provider)]; ok {
		return mapped
	}
	return current
}

func canTransition(current, next string) bool {
	nextStates, ok := shiftTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

func isTerminal(status string) bool {
	switch normalizeState(status) {
	case domain.ShiftStatusSettled, domain.ShiftStatusRefunded, domain.ShiftStatusCancelled:
		return true
	}
	return false
}
