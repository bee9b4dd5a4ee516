package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/shift-donations/internal/api/middleware"
	"github.com/ayo6706/shift-donations/internal/models"
	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler lets operators inspect and close reconciliation gaps.
type AdminHandler struct {
	recon *service.ReconciliationService
}

func NewAdminHandler(recon *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{recon: recon}
}

// ListGaps handles GET /v1/admin/reconciliation-gaps?kind=&limit=.
func (h *AdminHandler) ListGaps(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	gaps, err := h.recon.ListGaps(r.Context(), r.URL.Query().Get("kind"), int32(limit))
	if err != nil {
		writeServiceError(w, r, err, "list reconciliation gaps")
		return
	}
	RespondJSON(w, http.StatusOK, map[string][]models.ReconciliationGap{"gaps": gaps})
}

// ResolveGap handles POST /v1/admin/reconciliation-gaps/{id}/resolve.
func (h *AdminHandler) ResolveGap(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-gap-id", "Invalid gap id")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if err := h.recon.ResolveGap(r.Context(), id, req.Reason); err != nil {
		writeServiceError(w, r, err, "resolve reconciliation gap")
		return
	}
	zap.L().Info("operator resolved reconciliation gap",
		zap.Int64("gap_id", id),
		zap.String("operator", middleware.OperatorIDFromContext(r.Context())),
	)
	RespondJSON(w, http.StatusOK, map[string]any{"resolved": true, "id": id})
}
