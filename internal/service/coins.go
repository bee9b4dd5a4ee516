package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/shift-donations/internal/cache"
	"github.com/ayo6706/shift-donations/internal/gateway"
)

const (
	coinsCacheKey     = "coins:catalogue"
	defaultCoinsLimit = 20
	maxCoinsLimit     = 200
	defaultCoinDecims = 18
)

// evmNetworks are the settle networks a donation widget can offer.
var evmNetworks = map[string]struct{}{
	"ethereum": {},
	"polygon":  {},
	"base":     {},
	"bsc":      {},
	"optimism": {},
	"arbitrum": {},
}

// CoinRow is one coin on one EVM network.
type CoinRow struct {
	Coin     string  `json:"coin"`
	Name     string  `json:"name"`
	Network  string  `json:"network"`
	Contract *string `json:"contract"`
	Decimals int     `json:"decimals"`
	HasMemo  bool    `json:"hasMemo"`
}

type CoinPage struct {
	Rows    []CoinRow `json:"rows"`
	HasMore bool      `json:"hasMore"`
}

type CoinQuery struct {
	Query string
	Page  int
	Limit int
}

// CoinService serves the provider coin catalogue, cached and filtered to EVM networks.
type CoinService struct {
	gateway gateway.Gateway
	loader  *cache.Loader
}

func NewCoinService(gw gateway.Gateway, c cache.Cache, ttl time.Duration) *CoinService {
	return &CoinService{gateway: gw, loader: cache.NewLoader(c, ttl)}
}

// List returns one page of the catalogue matching q against coin, name or network.
func (s *CoinService) List(ctx context.Context, q CoinQuery) (*CoinPage, error) {
	if q.Limit <= 0 {
		q.Limit = defaultCoinsLimit
	}
	if q.Limit > maxCoinsLimit {
		q.Limit = maxCoinsLimit
	}
	if q.Page < 0 {
		q.Page = 0
	}

	raw, err := s.loader.GetOrLoad(ctx, coinsCacheKey, func(ctx context.Context) ([]byte, error) {
		coins, err := s.gateway.ListCoins(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(flattenCoins(coins))
	})
	if err != nil {
		return nil, err
	}
	var rows []CoinRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode cached coins: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(q.Query))
	filtered := rows[:0]
	for _, row := range rows {
		if needle == "" ||
			strings.Contains(strings.ToLower(row.Coin), needle) ||
			strings.Contains(strings.ToLower(row.Name), needle) ||
			strings.Contains(strings.ToLower(row.Network), needle) {
			filtered = append(filtered, row)
		}
	}

	start := q.Page * q.Limit
	if start > len(filtered) {
		start = len(filtered)
	}
	end := min(start+q.Limit, len(filtered))
	page := make([]CoinRow, end-start)
	copy(page, filtered[start:end])
	return &CoinPage{Rows: page, HasMore: end < len(filtered)}, nil
}

func flattenCoins(coins []gateway.Coin) []CoinRow {
	var rows []CoinRow
	for _, c := range coins {
		for _, network := range c.Networks {
			if _, ok := evmNetworks[strings.ToLower(network)]; !ok {
				continue
			}
			row := CoinRow{
				Coin:     c.Coin,
				Name:     c.Name,
				Network:  network,
				Decimals: defaultCoinDecims,
				HasMemo:  c.HasMemo,
			}
			if d, ok := c.TokenDetails[network]; ok {
				if d.ContractAddress != "" {
					contract := d.ContractAddress
					row.Contract = &contract
				}
				if d.Decimals > 0 {
					row.Decimals = d.Decimals
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}
