package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *SideShiftClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSideShiftClient(srv.URL+"/", "secret-1", time.Second)
}

func TestSideShiftQuoteSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/pair/eth-ethereum/usdc-base", r.URL.Path)
		assert.Equal(t, "0.05", r.URL.Query().Get("amount"))
		assert.Equal(t, "aff-1", r.URL.Query().Get("affiliateId"))
		assert.Equal(t, "0.02", r.URL.Query().Get("commissionRate"))
		assert.Equal(t, "secret-1", r.Header.Get("x-sideshift-secret"))
		_, _ = io.WriteString(w, `{"min":"0.003","max":"12.5","rate":"3120.55","depositCoin":"ETH","settleCoin":"USDC","depositNetwork":"ethereum","settleNetwork":"base"}`)
	})

	quote, err := client.Quote(context.Background(), QuoteParams{
		DepositToken:   "ETH",
		DepositNetwork: "ethereum",
		SettleToken:    "USDC",
		SettleNetwork:  "base",
		Amount:         decimal.RequireFromString("0.05"),
		AffiliateID:    "aff-1",
		CommissionRate: decimal.RequireFromString("0.02"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.003", quote.Min.String())
	assert.Equal(t, "12.5", quote.Max.String())
	assert.Equal(t, "3120.55", quote.Rate.String())
	assert.Equal(t, "USDC", quote.SettleToken)
	assert.NoError(t, quote.CheckBounds(decimal.RequireFromString("0.05")))
}

func TestSideShiftQuoteClassifiesErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "below minimum",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Amount is below the minimum of 0.003"}}`,
			check: func(t *testing.T, err error) {
				var be *BoundsError
				require.ErrorAs(t, err, &be)
				assert.Equal(t, BoundBelow, be.Side)
				assert.Equal(t, "0.003", be.Limit.String())
				assert.Equal(t, "0.001", be.Requested.String())
			},
		},
		{
			name:   "above maximum",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Amount is above the maximum of 12.5"}}`,
			check: func(t *testing.T, err error) {
				var be *BoundsError
				require.ErrorAs(t, err, &be)
				assert.Equal(t, BoundAbove, be.Side)
				assert.Equal(t, "12.5", be.Limit.String())
			},
		},
		{
			name:   "same asset",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Cannot shift between the same coin and network"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidPair)
			},
		},
		{
			name:   "other",
			status: http.StatusServiceUnavailable,
			body:   `{"error":{"message":"Service is under maintenance"}}`,
			check: func(t *testing.T, err error) {
				var ue *UpstreamError
				require.ErrorAs(t, err, &ue)
				assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
				assert.Equal(t, "Service is under maintenance", ue.Message)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := client.Quote(context.Background(), QuoteParams{
				DepositToken:   "ETH",
				DepositNetwork: "ethereum",
				SettleToken:    "USDC",
				SettleNetwork:  "base",
				Amount:         decimal.RequireFromString("0.001"),
			})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestSideShiftCreateOrderSendsCreatorWallet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/shifts/variable", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xcreator", body["settleAddress"])
		assert.Equal(t, "0xdonor", body["refundAddress"])
		assert.Equal(t, "aff-1", body["affiliateId"])
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"abc123","depositAddress":"0xdeposit","settleAddress":"0xcreator","depositCoin":"ETH","depositNetwork":"ethereum","settleCoin":"USDC","settleNetwork":"base","status":"waiting","createdAt":"2026-01-02T03:04:05.000Z","expiresAt":"2026-01-09T03:04:05.000Z"}`)
	})

	order, err := client.CreateOrder(context.Background(), CreateOrderParams{
		DepositToken:   "ETH",
		DepositNetwork: "ethereum",
		SettleToken:    "USDC",
		SettleNetwork:  "base",
		SettleAddress:  "0xcreator",
		RefundAddress:  "0xdonor",
		AffiliateID:    "aff-1",
		CommissionRate: decimal.RequireFromString("0.02"),
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", order.ID)
	assert.Equal(t, "0xdeposit", order.DepositAddress)
	assert.Equal(t, "0xcreator", order.SettleAddress)
	assert.Equal(t, "waiting", order.Status)
	assert.Equal(t, time.Date(2026, 1, 9, 3, 4, 5, 0, time.UTC), order.ExpiresAt.UTC())
	assert.NotEmpty(t, order.Raw)
}

func TestSideShiftCreateOrderMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>gateway timeout</html>`)
	})
	_, err := client.CreateOrder(context.Background(), CreateOrderParams{SettleAddress: "0xcreator"})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "malformed shift response", ue.Message)
}

func TestSideShiftGetStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shifts/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"Shift not found"}}`)
	})
	_, err := client.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSideShiftGetStatusUpstreamFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.GetStatus(context.Background(), "abc")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSideShiftCancel(t *testing.T) {
	t.Run("no content is success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/cancel-order", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "abc123", body["orderId"])
			w.WriteHeader(http.StatusNoContent)
		})
		require.NoError(t, client.Cancel(context.Background(), "abc123"))
	})

	t.Run("rejection keeps provider reason", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Order can only be cancelled after 5 minutes"}}`)
		})
		err := client.Cancel(context.Background(), "abc123")
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, http.StatusBadRequest, ue.StatusCode)
		assert.Equal(t, "Order can only be cancelled after 5 minutes", ue.Message)
	})

	t.Run("non json rejection", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
		})
		err := client.Cancel(context.Background(), "abc123")
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "boom", ue.Message)
	})
}

func TestSideShiftListCoins(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins", r.URL.Path)
		_, _ = io.WriteString(w, `[{"coin":"USDC","name":"USD Coin","networks":["ethereum","base"],"tokenDetails":{"base":{"contractAddress":"0xabc","decimals":6}},"hasMemo":false}]`)
	})
	coins, err := client.ListCoins(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "0xabc", coins[0].TokenDetails["base"].ContractAddress)
	assert.Equal(t, 6, coins[0].TokenDetails["base"].Decimals)
}

func TestQuoteCheckBounds(t *testing.T) {
	q := &Quote{Min: decimal.RequireFromString("0.01"), Max: decimal.RequireFromString("10")}

	var be *BoundsError
	require.ErrorAs(t, q.CheckBounds(decimal.RequireFromString("0.001")), &be)
	assert.Equal(t, BoundBelow, be.Side)

	require.ErrorAs(t, q.CheckBounds(decimal.RequireFromString("11")), &be)
	assert.Equal(t, BoundAbove, be.Side)

	assert.NoError(t, q.CheckBounds(decimal.RequireFromString("10")))
	assert.NoError(t, (&Quote{}).CheckBounds(decimal.RequireFromString("1000")))
}
