package handler

import (
	"net/http"

	"github.com/ayo6706/shift-donations/internal/service"
)

type IdentityHandler struct {
	identities *service.IdentityService
}

func NewIdentityHandler(identities *service.IdentityService) *IdentityHandler {
	return &IdentityHandler{identities: identities}
}

// SetupCreator handles POST /v1/creators. New creators get 201, updates get 200.
func (h *IdentityHandler) SetupCreator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
		Name   string `json:"name"`
		Token  string `json:"token"`
		Chain  string `json:"chain"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	identity, created, err := h.identities.EnsureCreator(r.Context(), service.CreatorProfile{
		Wallet:        req.Wallet,
		DisplayName:   req.Name,
		SettleToken:   req.Token,
		SettleNetwork: req.Chain,
	})
	if err != nil {
		writeServiceError(w, r, err, "setup creator")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	RespondJSON(w, status, identity)
}

// Me handles POST /v1/identities/me.
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	profile, err := h.identities.GetProfile(r.Context(), req.Wallet)
	if err != nil {
		writeServiceError(w, r, err, "get profile")
		return
	}
	RespondJSON(w, http.StatusOK, profile)
}
