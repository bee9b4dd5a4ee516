package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	quoteSessionIdleTTL = 10 * time.Minute
	sameAssetMessage    = "No conversion needed. Same coin and network selected."
)

// QuoteService resolves provider quotes into caller-facing summaries.
type QuoteService struct {
	gateway        gateway.Gateway
	affiliateID    string
	commissionRate decimal.Decimal
}

func NewQuoteService(gw gateway.Gateway, affiliateID string, commissionRate decimal.Decimal) *QuoteService {
	return &QuoteService{gateway: gw, affiliateID: affiliateID, commissionRate: commissionRate}
}

type QuoteRequest struct {
	DepositToken   string
	DepositNetwork string
	SettleToken    string
	SettleNetwork  string
	Amount         string
}

func (r QuoteRequest) validate() (decimal.Decimal, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"depositToken", r.DepositToken},
		{"depositNetwork", r.DepositNetwork},
		{"settleToken", r.SettleToken},
		{"settleNetwork", r.SettleNetwork},
		{"amount", r.Amount},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return decimal.Zero, &MissingFieldError{Fields: missing}
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: err.Error()}
	}
	return amount, nil
}

// QuoteSummary is what a donor sees before committing to a shift.
type QuoteSummary struct {
	NoConversion    bool            `json:"noConversion"`
	Message         string          `json:"message,omitempty"`
	DepositToken    string          `json:"depositToken"`
	DepositNetwork  string          `json:"depositNetwork"`
	SettleToken     string          `json:"settleToken"`
	SettleNetwork   string          `json:"settleNetwork"`
	Amount          decimal.Decimal `json:"amount"`
	Min             decimal.Decimal `json:"min"`
	Max             decimal.Decimal `json:"max"`
	Rate            decimal.Decimal `json:"rate"`
	EstimatedSettle decimal.Decimal `json:"estimatedSettle"`
}

// Resolve validates the request, asks the provider for bounds and rate, and classifies failures.
func (s *QuoteService) Resolve(ctx context.Context, req QuoteRequest) (*QuoteSummary, error) {
	amount, err := req.validate()
	if err != nil {
		return nil, err
	}

	summary := &QuoteSummary{
		DepositToken:   strings.TrimSpace(req.DepositToken),
		DepositNetwork: strings.TrimSpace(req.DepositNetwork),
		SettleToken:    strings.TrimSpace(req.SettleToken),
		SettleNetwork:  strings.TrimSpace(req.SettleNetwork),
		Amount:         amount,
	}
	if domain.SameAsset(req.DepositToken, req.DepositNetwork, req.SettleToken, req.SettleNetwork) {
		summary.NoConversion = true
		summary.Message = sameAssetMessage
		summary.Rate = decimal.NewFromInt(1)
		summary.EstimatedSettle = amount
		return summary, nil
	}

	quote, err := s.gateway.Quote(ctx, gateway.QuoteParams{
		DepositToken:   summary.DepositToken,
		DepositNetwork: summary.DepositNetwork,
		SettleToken:    summary.SettleToken,
		SettleNetwork:  summary.SettleNetwork,
		Amount:         amount,
		AffiliateID:    s.affiliateID,
		CommissionRate: s.commissionRate,
	})
	if err == nil {
		err = quote.CheckBounds(amount)
	}
	if err != nil {
		return nil, classifyQuoteError(err, summary.DepositToken)
	}

	summary.Min = quote.Min
	summary.Max = quote.Max
	summary.Rate = quote.Rate
	summary.EstimatedSettle = domain.EstimateSettle(amount, quote.Rate)
	return summary, nil
}

func classifyQuoteError(err error, depositToken string) error {
	token := strings.ToUpper(depositToken)

	var bounds *gateway.BoundsError
	switch {
	case errors.As(err, &bounds):
		if bounds.Side == gateway.BoundAbove {
			return &QuoteError{
				Kind:    QuoteErrAboveMaximum,
				Limit:   bounds.Limit,
				Token:   token,
				Message: fmt.Sprintf("Maximum donation is %s %s", bounds.Limit.String(), token),
				Err:     err,
			}
		}
		return &QuoteError{
			Kind:    QuoteErrBelowMinimum,
			Limit:   bounds.Limit,
			Token:   token,
			Message: fmt.Sprintf("Minimum donation is %s %s", bounds.Limit.String(), token),
			Err:     err,
		}
	case errors.Is(err, gateway.ErrInvalidPair):
		return &QuoteError{Kind: QuoteErrSameAsset, Token: token, Message: sameAssetMessage, Err: err}
	}

	var ue *gateway.UpstreamError
	if errors.As(err, &ue) && ue.StatusCode >= 400 && ue.StatusCode < 500 && ue.Message != "" {
		return &QuoteError{Kind: QuoteErrOther, Token: token, Message: ue.Message, Err: err}
	}
	return err
}

// QuoteTracker numbers quote requests for one client so that only the most recent
// request may publish its result.
type QuoteTracker struct {
	mu       sync.Mutex
	seq      uint64
	latest   *QuoteSummary
	lastErr  error
	lastUsed time.Time
}

// Begin registers a new request and returns its sequence number.
func (t *QuoteTracker) Begin() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

// Complete publishes the result of request seq. Results of superseded requests are
// discarded and reported as ErrQuoteSuperseded.
func (t *QuoteTracker) Complete(seq uint64, summary *QuoteSummary, err error) (*QuoteSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq != t.seq {
		return nil, ErrQuoteSuperseded
	}
	t.latest, t.lastErr = summary, err
	return summary, err
}

// Latest returns the state published by the most recent completed request.
func (t *QuoteTracker) Latest() (*QuoteSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.lastErr
}

// ResolveTracked resolves req on behalf of tracker's client.
func (s *QuoteService) ResolveTracked(ctx context.Context, tracker *QuoteTracker, req QuoteRequest) (*QuoteSummary, error) {
	seq := tracker.Begin()
	summary, err := s.Resolve(ctx, req)
	out, err := tracker.Complete(seq, summary, err)
	if errors.Is(err, ErrQuoteSuperseded) {
		zap.L().Debug("quote result discarded", zap.Uint64("seq", seq))
	}
	return out, err
}

// QuoteSessions holds one tracker per client session and forgets idle ones.
type QuoteSessions struct {
	mu       sync.Mutex
	now      Clock
	idle     time.Duration
	trackers map[string]*QuoteTracker
}

func NewQuoteSessions(now Clock) *QuoteSessions {
	if now == nil {
		now = systemClock
	}
	return &QuoteSessions{now: now, idle: quoteSessionIdleTTL, trackers: make(map[string]*QuoteTracker)}
}

// Tracker returns the tracker for session, creating it if needed.
func (s *QuoteSessions) Tracker(session string) *QuoteTracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, t := range s.trackers {
		if id != session && now.Sub(t.lastUsed) > s.idle {
			delete(s.trackers, id)
		}
	}
	t, ok := s.trackers[session]
	if !ok {
		t = &QuoteTracker{}
		s.trackers[session] = t
	}
	t.lastUsed = now
	return t
}

// Len reports the number of live sessions.
func (s *QuoteSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}
