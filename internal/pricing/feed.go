package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/shift-donations/internal/cache"
	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CoinPrice is one entry of the price map.
type CoinPrice struct {
	Price      decimal.Decimal `json:"price"`
	Symbol     string          `json:"symbol,omitempty"`
	Decimals   int             `json:"decimals,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
}

// Prices maps feed ids ("<chain>:<address>") to USD prices.
type Prices struct {
	Coins map[string]CoinPrice `json:"coins"`
}

// geckoIDs maps chains to the CoinGecko id of their native asset.
var geckoIDs = map[string]string{
	"ethereum": "ethereum",
	"polygon":  "matic-network",
	"avax":     "avalanche-2",
	"bsc":      "binancecoin",
	"optimism": "optimism",
	"arbitrum": "arbitrum",
	"base":     "base-protocol",
	"fantom":   "fantom",
	"solana":   "solana",
}

// Feed resolves USD prices from DefiLlama with a CoinGecko fallback for native assets.
type Feed struct {
	primaryURL  string
	fallbackURL string
	http        *http.Client
	loader      *cache.Loader
}

// NewFeed builds a feed whose results are cached in c for ttl.
func NewFeed(primaryURL, fallbackURL string, c cache.Cache, ttl time.Duration) *Feed {
	return &Feed{
		primaryURL:  strings.TrimRight(primaryURL, "/"),
		fallbackURL: strings.TrimRight(fallbackURL, "/"),
		http:        &http.Client{Timeout: 10 * time.Second},
		loader:      cache.NewLoader(c, ttl),
	}
}

// Prices returns prices for ids. Results are cached by the sorted id set.
func (f *Feed) Prices(ctx context.Context, ids []string) (*Prices, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return &Prices{Coins: map[string]CoinPrice{}}, nil
	}

	key := "prices:" + strings.Join(ids, ",")
	raw, err := f.loader.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		prices, err := f.fetch(ctx, ids)
		if err != nil {
			return nil, err
		}
		return json.Marshal(prices)
	})
	if err != nil {
		return nil, err
	}

	var out Prices
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cached prices: %w", err)
	}
	if out.Coins == nil {
		out.Coins = map[string]CoinPrice{}
	}
	return &out, nil
}

func (f *Feed) fetch(ctx context.Context, ids []string) (*Prices, error) {
	start := time.Now()
	var primary Prices
	segments := make([]string, len(ids))
	for i, id := range ids {
		segments[i] = url.PathEscape(id)
	}
	err := f.getJSON(ctx, f.primaryURL+"/prices/current/"+strings.Join(segments, ","), &primary)
	observability.ObserveGatewayRequest("price_feed", outcome(err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("price feed: %w", err)
	}
	if primary.Coins == nil {
		primary.Coins = map[string]CoinPrice{}
	}

	var missing []string
	for _, id := range ids {
		if !strings.HasSuffix(id, ":"+domain.NativeTokenAddress) {
			continue
		}
		if _, ok := primary.Coins[id]; ok {
			continue
		}
		chain := strings.SplitN(id, ":", 2)[0]
		if _, ok := geckoIDs[chain]; ok {
			missing = append(missing, chain)
		}
	}
	if len(missing) == 0 || f.fallbackURL == "" {
		return &primary, nil
	}

	gecko := make([]string, 0, len(missing))
	for _, chain := range missing {
		gecko = append(gecko, geckoIDs[chain])
	}
	q := url.Values{}
	q.Set("ids", strings.Join(gecko, ","))
	q.Set("vs_currencies", "usd")

	var fallback map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	start = time.Now()
	err = f.getJSON(ctx, f.fallbackURL+"/simple/price?"+q.Encode(), &fallback)
	observability.ObserveGatewayRequest("price_fallback", outcome(err), time.Since(start))
	if err != nil {
		zap.L().Warn("native price fallback failed", zap.Strings("chains", missing), zap.Error(err))
		return &primary, nil
	}
	for _, chain := range missing {
		entry, ok := fallback[geckoIDs[chain]]
		if !ok || entry.USD.IsZero() {
			continue
		}
		primary.Coins[chain+":"+domain.NativeTokenAddress] = CoinPrice{Price: entry.USD}
	}
	return &primary, nil
}

func (f *Feed) getJSON(ctx context.Context, target string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
