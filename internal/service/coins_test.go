package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/shift-donations/internal/cache"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinServiceList(t *testing.T) {
	gw := gateway.NewMockGateway()
	svc := NewCoinService(gw, cache.NewMemory(), time.Hour)
	ctx := context.Background()

	all, err := svc.List(ctx, CoinQuery{Limit: 100})
	require.NoError(t, err)
	assert.False(t, all.HasMore)
	for _, row := range all.Rows {
		assert.NotEqual(t, "tron", row.Network)
		assert.NotEqual(t, "bitcoin", row.Network)
	}
	assert.Len(t, all.Rows, 12)

	usdc, err := svc.List(ctx, CoinQuery{Query: "usd coin"})
	require.NoError(t, err)
	require.Len(t, usdc.Rows, 4)
	require.NotNil(t, usdc.Rows[0].Contract)
	assert.Equal(t, 6, usdc.Rows[0].Decimals)

	eth, err := svc.List(ctx, CoinQuery{Query: "ETH", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 18, eth.Rows[0].Decimals)
	assert.Nil(t, eth.Rows[0].Contract)

	page, err := svc.List(ctx, CoinQuery{Page: 1, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, page.Rows, 5)
	assert.True(t, page.HasMore)

	last, err := svc.List(ctx, CoinQuery{Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, last.Rows, 2)
	assert.False(t, last.HasMore)

	beyond, err := svc.List(ctx, CoinQuery{Page: 9, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, beyond.Rows)

	assert.Equal(t, 1, gw.Calls("list_coins"))
}

func TestCoinServiceList_ProviderFailure(t *testing.T) {
	gw := gateway.NewMockGateway()
	gw.FailNext("list_coins", &gateway.UpstreamError{Op: "list_coins", StatusCode: 502})
	svc := NewCoinService(gw, cache.NewMemory(), time.Hour)

	_, err := svc.List(context.Background(), CoinQuery{})
	var ue *gateway.UpstreamError
	assert.ErrorAs(t, err, &ue)
}
