package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrShiftNotFound    = errors.New("shift not found")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrNotCancellable   = errors.New("shift is not cancellable")
	ErrQuoteSuperseded  = errors.New("quote superseded by a newer request")
	ErrGapNotFound      = errors.New("reconciliation gap not found or already resolved")

	// ErrReconciliationGap means the provider accepted an operation the store could not record.
	ErrReconciliationGap = errors.New("provider state not recorded locally")
)

// MissingFieldError lists every required field that was absent.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// ValidationError reports a present but unusable field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TooEarlyError is returned when a cancel is attempted inside the grace period.
type TooEarlyError struct {
	CancellableAt time.Time
	Remaining     time.Duration
	// Reason is the provider's message when the rejection came from the provider.
	Reason string
}

func (e *TooEarlyError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	mins := int((e.Remaining + time.Minute - 1) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("cancel available in %d minute(s)", mins)
}

const (
	QuoteErrBelowMinimum = "below_minimum"
	QuoteErrAboveMaximum = "above_maximum"
	QuoteErrSameAsset    = "same_asset"
	QuoteErrOther        = "other"
)

// QuoteError is a classified quote failure with a caller-facing message.
type QuoteError struct {
	Kind    string
	Limit   decimal.Decimal
	Token   string
	Message string
	Err     error
}

func (e *QuoteError) Error() string {
	return e.Message
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}
