package handler

import (
	"net/http"

	"github.com/ayo6706/shift-donations/internal/pricing"
	"go.uber.org/zap"
)

type PriceHandler struct {
	feed *pricing.Feed
}

func NewPriceHandler(feed *pricing.Feed) *PriceHandler {
	return &PriceHandler{feed: feed}
}

// GetPrices handles GET /v1/prices?ids=chain:address,... or ?symbols=token-chain,...
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := pricing.ParseIDs(q.Get("ids"))
	ids = append(ids, pricing.ParseSymbols(q.Get("symbols"))...)
	if len(ids) == 0 {
		respondProblem(w, r, http.StatusBadRequest, "request/missing-fields", "ids or symbols is required", map[string]any{"fields": []string{"ids", "symbols"}})
		return
	}

	prices, err := h.feed.Prices(r.Context(), ids)
	if err != nil {
		zap.L().Warn("price lookup failed", zap.Strings("ids", ids), zap.Error(err))
		RespondError(w, r, http.StatusBadGateway, "price/unavailable", "Price feed unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, prices)
}
