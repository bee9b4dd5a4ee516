package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/shift-donations/internal/service"
)

const quoteSessionHeader = "X-Quote-Session"

type QuoteHandler struct {
	quotes   *service.QuoteService
	sessions *service.QuoteSessions
}

func NewQuoteHandler(quotes *service.QuoteService, sessions *service.QuoteSessions) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, sessions: sessions}
}

// GetQuote handles GET /v1/quotes. Clients that send X-Quote-Session only ever receive
// the answer to their most recent request; older in-flight requests get 409.
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.QuoteRequest{
		DepositToken:   q.Get("depositToken"),
		DepositNetwork: q.Get("depositNetwork"),
		SettleToken:    q.Get("settleToken"),
		SettleNetwork:  q.Get("settleNetwork"),
		Amount:         q.Get("amount"),
	}

	var (
		summary *service.QuoteSummary
		err     error
	)
	if session := strings.TrimSpace(r.Header.Get(quoteSessionHeader)); session != "" && h.sessions != nil {
		summary, err = h.quotes.ResolveTracked(r.Context(), h.sessions.Tracker(session), req)
	} else {
		summary, err = h.quotes.Resolve(r.Context(), req)
	}
	if err != nil {
		writeServiceError(w, r, err, "resolve quote")
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}
