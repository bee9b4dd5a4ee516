package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const secretHeader = "x-sideshift-secret"

var boundsPattern = regexp.MustCompile(`(?i)(below|above) the (?:minimum|maximum) of ([0-9]+(?:\.[0-9]+)?)`)

// SideShiftClient implements Gateway against the SideShift v2 HTTP API.
type SideShiftClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewSideShiftClient constructs a client. A non-positive timeout falls back to 15s.
func NewSideShiftClient(baseURL, secret string, timeout time.Duration) *SideShiftClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SideShiftClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *SideShiftClient) Quote(ctx context.Context, params QuoteParams) (*Quote, error) {
	q := url.Values{}
	q.Set("amount", params.Amount.String())
	if params.AffiliateID != "" {
		q.Set("affiliateId", params.AffiliateID)
	}
	q.Set("commissionRate", params.CommissionRate.String())
	path := fmt.Sprintf("/pair/%s/%s?%s",
		url.PathEscape(pairLeg(params.DepositToken, params.DepositNetwork)),
		url.PathEscape(pairLeg(params.SettleToken, params.SettleNetwork)),
		q.Encode(),
	)

	var quote Quote
	status, body, err := c.do(ctx, "quote", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, classifyQuoteError(status, body, params.Amount)
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, &UpstreamError{Op: "quote", StatusCode: status, Message: "malformed pair response", Body: body}
	}
	return &quote, nil
}

func (c *SideShiftClient) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	payload := map[string]string{
		"depositCoin":    params.DepositToken,
		"depositNetwork": params.DepositNetwork,
		"settleCoin":     params.SettleToken,
		"settleNetwork":  params.SettleNetwork,
		"settleAddress":  params.SettleAddress,
		"commissionRate": params.CommissionRate.String(),
	}
	if params.RefundAddress != "" {
		payload["refundAddress"] = params.RefundAddress
	}
	if params.AffiliateID != "" {
		payload["affiliateId"] = params.AffiliateID
	}

	status, body, err := c.do(ctx, "create_order", http.MethodPost, "/shifts/variable", payload)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, upstreamError("create_order", status, body)
	}
	return decodeOrder("create_order", status, body)
}

func (c *SideShiftClient) GetStatus(ctx context.Context, externalOrderID string) (*Order, error) {
	status, body, err := c.do(ctx, "get_status", http.MethodGet, "/shifts/"+url.PathEscape(externalOrderID), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status >= 300 {
		return nil, upstreamError("get_status", status, body)
	}
	return decodeOrder("get_status", status, body)
}

func (c *SideShiftClient) Cancel(ctx context.Context, externalOrderID string) error {
	status, body, err := c.do(ctx, "cancel", http.MethodPost, "/cancel-order", map[string]string{"orderId": externalOrderID})
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		return nil
	}
	return upstreamError("cancel", status, body)
}

func (c *SideShiftClient) ListCoins(ctx context.Context) ([]Coin, error) {
	status, body, err := c.do(ctx, "list_coins", http.MethodGet, "/coins", nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, upstreamError("list_coins", status, body)
	}
	var coins []Coin
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, &UpstreamError{Op: "list_coins", StatusCode: status, Message: "malformed coins response", Body: body}
	}
	return coins, nil
}

// do performs one request and returns the status and raw body. Transport failures are wrapped
// in *UpstreamError with a zero status code.
func (c *SideShiftClient) do(ctx context.Context, op, method, path string, payload interface{}) (int, []byte, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		observability.ObserveGatewayRequest(op, outcome, time.Since(start))
	}()

	var reader io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, err
		}
		return 0, nil, &UpstreamError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: "read response body: " + err.Error()}
	}

	if resp.StatusCode < 300 {
		outcome = "ok"
	} else {
		outcome = fmt.Sprintf("%dxx", resp.StatusCode/100)
		zap.L().Debug("sideshift request rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(body, 300)),
		)
	}
	return resp.StatusCode, body, nil
}

func decodeOrder(op string, status int, body []byte) (*Order, error) {
	var order Order
	if err := json.Unmarshal(body, &order); err != nil || order.ID == "" {
		return nil, &UpstreamError{Op: op, StatusCode: status, Message: "malformed shift response", Body: body}
	}
	order.Raw = append(json.RawMessage(nil), body...)
	return &order, nil
}

func upstreamError(op string, status int, body []byte) *UpstreamError {
	return &UpstreamError{Op: op, StatusCode: status, Message: providerMessage(body), Body: body}
}

// providerMessage extracts error.message from a provider error body, falling back to the raw text.
func providerMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(truncate(body, 300)))
}

func classifyQuoteError(status int, body []byte, requested decimal.Decimal) error {
	msg := providerMessage(body)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "cannot shift between") || strings.Contains(lower, "invalid pair") {
		return fmt.Errorf("%w: %s", ErrInvalidPair, msg)
	}
	if m := boundsPattern.FindStringSubmatch(msg); m != nil {
		limit, err := decimal.NewFromString(m[2])
		if err == nil {
			side := BoundBelow
			if strings.EqualFold(m[1], "above") {
				side = BoundAbove
			}
			return &BoundsError{Side: side, Limit: limit, Requested: requested, Message: msg}
		}
	}
	return &UpstreamError{Op: "quote", StatusCode: status, Message: msg, Body: body}
}

func pairLeg(token, network string) string {
	return strings.ToLower(strings.TrimSpace(token)) + "-" + strings.ToLower(strings.TrimSpace(network))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
