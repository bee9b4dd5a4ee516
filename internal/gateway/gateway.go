package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is the contract with the external swap provider. Implementations never retry.
type Gateway interface {
	// Quote returns the provider's min/max bounds and rate for a pair.
	Quote(ctx context.Context, params QuoteParams) (*Quote, error)
	// CreateOrder opens a variable-rate order. The returned DepositAddress is where the donor pays.
	CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error)
	// GetStatus returns the provider snapshot for an order, or ErrNotFound.
	GetStatus(ctx context.Context, externalOrderID string) (*Order, error)
	// Cancel asks the provider to cancel an order. Rejections are *UpstreamError with the provider reason.
	Cancel(ctx context.Context, externalOrderID string) error
	// ListCoins returns the provider's supported coin catalogue.
	ListCoins(ctx context.Context) ([]Coin, error)
}

var (
	// ErrInvalidPair means the provider refuses to shift between the two assets.
	ErrInvalidPair = errors.New("gateway: invalid pair")
	// ErrNotFound means the provider has no order with the given id.
	ErrNotFound = errors.New("gateway: order not found")
)

const (
	BoundBelow = "below"
	BoundAbove = "above"
)

// BoundsError reports an amount outside the provider's accepted range.
type BoundsError struct {
	Side      string
	Limit     decimal.Decimal
	Requested decimal.Decimal
	Message   string
}

func (e *BoundsError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Side == BoundAbove {
		return fmt.Sprintf("amount is above the maximum of %s", e.Limit.String())
	}
	return fmt.Sprintf("amount is below the minimum of %s", e.Limit.String())
}

// UpstreamError is any provider failure that is not a classified error.
// Message carries the provider's own reason when one was returned.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: provider returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider returned %d", e.Op, e.StatusCode)
}

type QuoteParams struct {
	DepositToken   string
	DepositNetwork string
	SettleToken    string
	SettleNetwork  string
	Amount         decimal.Decimal
	AffiliateID    string
	CommissionRate decimal.Decimal
}

type Quote struct {
	Min            decimal.Decimal `json:"min"`
	Max            decimal.Decimal `json:"max"`
	Rate           decimal.Decimal `json:"rate"`
	DepositToken   string          `json:"depositCoin"`
	DepositNetwork string          `json:"depositNetwork"`
	SettleToken    string          `json:"settleCoin"`
	SettleNetwork  string          `json:"settleNetwork"`
}

// CheckBounds reports a *BoundsError when amount lies outside [Min, Max].
// A zero Max is treated as unbounded.
func (q *Quote) CheckBounds(amount decimal.Decimal) error {
	if !q.Min.IsZero() && amount.LessThan(q.Min) {
		return &BoundsError{Side: BoundBelow, Limit: q.Min, Requested: amount}
	}
	if !q.Max.IsZero() && amount.GreaterThan(q.Max) {
		return &BoundsError{Side: BoundAbove, Limit: q.Max, Requested: amount}
	}
	return nil
}

type CreateOrderParams struct {
	DepositToken   string
	DepositNetwork string
	SettleToken    string
	SettleNetwork  string
	SettleAddress  string
	RefundAddress  string
	AffiliateID    string
	CommissionRate decimal.Decimal
}

// Order is the provider's view of a shift.
type Order struct {
	ID             string          `json:"id"`
	DepositAddress string          `json:"depositAddress"`
	DepositToken   string          `json:"depositCoin"`
	DepositNetwork string          `json:"depositNetwork"`
	SettleToken    string          `json:"settleCoin"`
	SettleNetwork  string          `json:"settleNetwork"`
	SettleAddress  string          `json:"settleAddress"`
	RefundAddress  string          `json:"refundAddress,omitempty"`
	DepositAmount  string          `json:"depositAmount,omitempty"`
	SettleAmount   string          `json:"settleAmount,omitempty"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	Raw            json.RawMessage `json:"-"`
}

type TokenDetail struct {
	ContractAddress string `json:"contractAddress"`
	Decimals        int    `json:"decimals"`
}

// Coin is one entry of the provider catalogue.
type Coin struct {
	Coin         string                 `json:"coin"`
	Name         string                 `json:"name"`
	Networks     []string               `json:"networks"`
	TokenDetails map[string]TokenDetail `json:"tokenDetails,omitempty"`
	HasMemo      bool                   `json:"hasMemo"`
}
