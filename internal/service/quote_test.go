package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quoteRequest(amount string) QuoteRequest {
	return QuoteRequest{
		DepositToken:   "eth",
		DepositNetwork: "ethereum",
		SettleToken:    "usdc",
		SettleNetwork:  "polygon",
		Amount:         amount,
	}
}

func TestQuoteResolve(t *testing.T) {
	gw := gateway.NewMockGateway()
	gw.Min = decimal.RequireFromString("0.003")
	gw.Max = decimal.RequireFromString("12.5")
	gw.SetRate("eth", "ethereum", "usdc", "polygon", decimal.RequireFromString("3120.55"))
	svc := NewQuoteService(gw, "aff", decimal.RequireFromString("0.02"))
	ctx := context.Background()

	t.Run("within bounds", func(t *testing.T) {
		summary, err := svc.Resolve(ctx, quoteRequest("0.05"))
		require.NoError(t, err)
		assert.False(t, summary.NoConversion)
		assert.Equal(t, "0.003", summary.Min.String())
		assert.Equal(t, "12.5", summary.Max.String())
		assert.Equal(t, "156.0275", summary.EstimatedSettle.String())
	})

	tests := []struct {
		name    string
		amount  string
		kind    string
		message string
	}{
		{"below minimum", "0.001", QuoteErrBelowMinimum, "Minimum donation is 0.003 ETH"},
		{"above maximum", "20", QuoteErrAboveMaximum, "Maximum donation is 12.5 ETH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(ctx, quoteRequest(tt.amount))
			var qerr *QuoteError
			require.ErrorAs(t, err, &qerr)
			assert.Equal(t, tt.kind, qerr.Kind)
			assert.Equal(t, tt.message, qerr.Error())
		})
	}

	t.Run("same asset skips provider", func(t *testing.T) {
		calls := gw.Calls("quote")
		req := quoteRequest("1")
		req.SettleToken, req.SettleNetwork = "ETH", "Ethereum"
		summary, err := svc.Resolve(ctx, req)
		require.NoError(t, err)
		assert.True(t, summary.NoConversion)
		assert.Equal(t, "No conversion needed. Same coin and network selected.", summary.Message)
		assert.Equal(t, calls, gw.Calls("quote"))
	})

	t.Run("provider invalid pair", func(t *testing.T) {
		gw.FailNext("quote", gateway.ErrInvalidPair)
		_, err := svc.Resolve(ctx, quoteRequest("1"))
		var qerr *QuoteError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, QuoteErrSameAsset, qerr.Kind)
		assert.ErrorIs(t, err, gateway.ErrInvalidPair)
	})

	t.Run("provider client error keeps its message", func(t *testing.T) {
		gw.FailNext("quote", &gateway.UpstreamError{Op: "quote", StatusCode: 400, Message: "Invalid coin"})
		_, err := svc.Resolve(ctx, quoteRequest("1"))
		var qerr *QuoteError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, QuoteErrOther, qerr.Kind)
		assert.Equal(t, "Invalid coin", qerr.Error())
	})

	t.Run("provider outage passes through", func(t *testing.T) {
		gw.FailNext("quote", &gateway.UpstreamError{Op: "quote", StatusCode: 503})
		_, err := svc.Resolve(ctx, quoteRequest("1"))
		var ue *gateway.UpstreamError
		require.ErrorAs(t, err, &ue)
		var qerr *QuoteError
		assert.False(t, errors.As(err, &qerr))
	})

	t.Run("validation", func(t *testing.T) {
		req := quoteRequest("")
		req.DepositNetwork = ""
		_, err := svc.Resolve(ctx, req)
		var missing *MissingFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"depositNetwork", "amount"}, missing.Fields)

		for _, amount := range []string{"abc", "1e30", "0.0000000000000000000001"} {
			_, err = svc.Resolve(ctx, quoteRequest(amount))
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr, amount)
		}
	})
}

// blockingQuoteGateway holds the first quote until released.
type blockingQuoteGateway struct {
	*gateway.MockGateway
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *blockingQuoteGateway) Quote(ctx context.Context, params gateway.QuoteParams) (*gateway.Quote, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MockGateway.Quote(ctx, params)
}

func TestResolveTracked_LastRequestWins(t *testing.T) {
	gw := &blockingQuoteGateway{
		MockGateway: gateway.NewMockGateway(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := NewQuoteService(gw, "", decimal.Zero)
	tracker := &QuoteTracker{}
	ctx := context.Background()

	staleErr := make(chan error, 1)
	go func() {
		_, err := svc.ResolveTracked(ctx, tracker, quoteRequest("1"))
		staleErr <- err
	}()
	<-gw.entered

	fresh, err := svc.ResolveTracked(ctx, tracker, quoteRequest("2"))
	require.NoError(t, err)
	assert.Equal(t, "2", fresh.Amount.String())

	close(gw.release)
	assert.ErrorIs(t, <-staleErr, ErrQuoteSuperseded)

	latest, err := tracker.Latest()
	require.NoError(t, err)
	assert.Equal(t, "2", latest.Amount.String())
}

func TestQuoteSessions_ExpireWhenIdle(t *testing.T) {
	clock := newTestClock()
	sessions := NewQuoteSessions(clock.Now)

	a := sessions.Tracker("a")
	sessions.Tracker("b")
	assert.Same(t, a, sessions.Tracker("a"))
	assert.Equal(t, 2, sessions.Len())

	clock.Advance(11 * time.Minute)
	sessions.Tracker("a")
	assert.Equal(t, 1, sessions.Len())
}
