package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	mockCancelGrace = 5 * time.Minute
	mockOrderTTL    = 7 * 24 * time.Hour
)

// MockGateway simulates the swap provider in memory for local runs and tests.
// Orders advance waiting -> processing -> settled as time passes when progression
// delays are set, and cancellation follows the provider's five minute rule.
type MockGateway struct {
	mu       sync.Mutex
	now      func() time.Time
	orders   map[string]*Order
	rates    map[string]decimal.Decimal
	failures map[string]error
	calls    map[string]int

	Min          decimal.Decimal
	Max          decimal.Decimal
	DefaultRate  decimal.Decimal
	ConfirmAfter time.Duration
	SettleAfter  time.Duration
}

// NewMockGateway creates a MockGateway with permissive bounds and a unit rate.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		now:         time.Now,
		orders:      make(map[string]*Order),
		rates:       make(map[string]decimal.Decimal),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		Min:         decimal.RequireFromString("0.0001"),
		Max:         decimal.RequireFromString("100000"),
		DefaultRate: decimal.NewFromInt(1),
	}
}

// WithClock replaces the time source.
func (g *MockGateway) WithClock(now func() time.Time) *MockGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// WithProgression enables time-driven status changes. Zero durations disable a step.
func (g *MockGateway) WithProgression(confirmAfter, settleAfter time.Duration) *MockGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ConfirmAfter = confirmAfter
	g.SettleAfter = settleAfter
	return g
}

// SetRate fixes the rate for a deposit/settle pair.
func (g *MockGateway) SetRate(depositToken, depositNetwork, settleToken, settleNetwork string, rate decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rates[pairLeg(depositToken, depositNetwork)+"/"+pairLeg(settleToken, settleNetwork)] = rate
}

// FailNext makes the next call to op ("quote", "create_order", "get_status", "cancel", "list_coins") return err.
func (g *MockGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

// SetStatus overwrites the provider-side status of an order.
func (g *MockGateway) SetStatus(externalOrderID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[externalOrderID]; ok {
		o.Status = status
	}
}

// Forget removes an order so later lookups report ErrNotFound.
func (g *MockGateway) Forget(externalOrderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, externalOrderID)
}

// Calls returns how many times op was invoked.
func (g *MockGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *MockGateway) enter(op string) error {
	g.calls[op]++
	if err, ok := g.failures[op]; ok {
		delete(g.failures, op)
		return err
	}
	return nil
}

func (g *MockGateway) Quote(ctx context.Context, params QuoteParams) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("quote"); err != nil {
		return nil, err
	}

	from := pairLeg(params.DepositToken, params.DepositNetwork)
	to := pairLeg(params.SettleToken, params.SettleNetwork)
	if from == to {
		return nil, fmt.Errorf("%w: cannot shift between the same coin and network", ErrInvalidPair)
	}
	if params.Amount.LessThan(g.Min) {
		return nil, &BoundsError{
			Side:      BoundBelow,
			Limit:     g.Min,
			Requested: params.Amount,
			Message:   fmt.Sprintf("Amount is below the minimum of %s", g.Min.String()),
		}
	}
	if params.Amount.GreaterThan(g.Max) {
		return nil, &BoundsError{
			Side:      BoundAbove,
			Limit:     g.Max,
			Requested: params.Amount,
			Message:   fmt.Sprintf("Amount is above the maximum of %s", g.Max.String()),
		}
	}

	rate, ok := g.rates[from+"/"+to]
	if !ok {
		rate = g.DefaultRate
	}
	return &Quote{
		Min:            g.Min,
		Max:            g.Max,
		Rate:           rate,
		DepositToken:   strings.ToUpper(params.DepositToken),
		DepositNetwork: strings.ToLower(params.DepositNetwork),
		SettleToken:    strings.ToUpper(params.SettleToken),
		SettleNetwork:  strings.ToLower(params.SettleNetwork),
	}, nil
}

func (g *MockGateway) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("create_order"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.SettleAddress) == "" {
		return nil, &UpstreamError{Op: "create_order", StatusCode: http.StatusBadRequest, Message: "Invalid settleAddress"}
	}
	if pairLeg(params.DepositToken, params.DepositNetwork) == pairLeg(params.SettleToken, params.SettleNetwork) {
		return nil, &UpstreamError{Op: "create_order", StatusCode: http.StatusBadRequest, Message: "Cannot shift between the same coin and network"}
	}

	now := g.now().UTC()
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	order := &Order{
		ID:             id,
		DepositAddress: "0x" + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		DepositToken:   strings.ToUpper(params.DepositToken),
		DepositNetwork: strings.ToLower(params.DepositNetwork),
		SettleToken:    strings.ToUpper(params.SettleToken),
		SettleNetwork:  strings.ToLower(params.SettleNetwork),
		SettleAddress:  params.SettleAddress,
		RefundAddress:  params.RefundAddress,
		Status:         "waiting",
		CreatedAt:      now,
		ExpiresAt:      now.Add(mockOrderTTL),
	}
	g.orders[id] = order
	return snapshot(order), nil
}

func (g *MockGateway) GetStatus(ctx context.Context, externalOrderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("get_status"); err != nil {
		return nil, err
	}
	order, ok := g.orders[externalOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	g.progress(order)
	return snapshot(order), nil
}

func (g *MockGateway) Cancel(ctx context.Context, externalOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("cancel"); err != nil {
		return err
	}
	order, ok := g.orders[externalOrderID]
	if !ok {
		return &UpstreamError{Op: "cancel", StatusCode: http.StatusNotFound, Message: "Order not found"}
	}
	g.progress(order)
	if order.Status != "waiting" {
		return &UpstreamError{Op: "cancel", StatusCode: http.StatusBadRequest, Message: "Order is not in a cancellable state"}
	}
	if g.now().Before(order.CreatedAt.Add(mockCancelGrace)) {
		return &UpstreamError{Op: "cancel", StatusCode: http.StatusBadRequest, Message: "Order can only be cancelled 5 minutes after creation"}
	}
	order.Status = "expired"
	return nil
}

func (g *MockGateway) ListCoins(ctx context.Context) ([]Coin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("list_coins"); err != nil {
		return nil, err
	}
	out := make([]Coin, len(mockCoins))
	copy(out, mockCoins)
	return out, nil
}

func (g *MockGateway) progress(order *Order) {
	if order.Status != "waiting" && order.Status != "processing" {
		return
	}
	age := g.now().Sub(order.CreatedAt)
	if g.SettleAfter > 0 && age >= g.SettleAfter {
		order.Status = "settled"
		return
	}
	if g.ConfirmAfter > 0 && age >= g.ConfirmAfter {
		order.Status = "processing"
	}
}

func snapshot(order *Order) *Order {
	cp := *order
	raw, _ := json.Marshal(cp)
	cp.Raw = raw
	return &cp
}

var mockCoins = []Coin{
	{Coin: "ETH", Name: "Ethereum", Networks: []string{"ethereum", "arbitrum", "optimism", "base"}},
	{
		Coin:     "USDC",
		Name:     "USD Coin",
		Networks: []string{"ethereum", "polygon", "base", "bsc"},
		TokenDetails: map[string]TokenDetail{
			"ethereum": {ContractAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
			"polygon":  {ContractAddress: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
			"base":     {ContractAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6},
			"bsc":      {ContractAddress: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		},
	},
	{
		Coin:     "USDT",
		Name:     "Tether",
		Networks: []string{"ethereum", "bsc", "tron"},
		TokenDetails: map[string]TokenDetail{
			"ethereum": {ContractAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
			"bsc":      {ContractAddress: "0x55d398326f99059ff775485246999027b3197955", Decimals: 18},
		},
	},
	{Coin: "POL", Name: "Polygon", Networks: []string{"polygon"}},
	{Coin: "BNB", Name: "BNB", Networks: []string{"bsc"}},
	{Coin: "BTC", Name: "Bitcoin", Networks: []string{"bitcoin"}},
}
