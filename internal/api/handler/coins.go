package handler

import (
	"net/http"

	"github.com/ayo6706/shift-donations/internal/service"
)

type CoinHandler struct {
	coins *service.CoinService
}

func NewCoinHandler(coins *service.CoinService) *CoinHandler {
	return &CoinHandler{coins: coins}
}

// ListCoins handles GET /v1/coins?q=&page=&limit=.
func (h *CoinHandler) ListCoins(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-page", err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}

	res, err := h.coins.List(r.Context(), service.CoinQuery{
		Query: r.URL.Query().Get("q"),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		writeServiceError(w, r, err, "list coins")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
