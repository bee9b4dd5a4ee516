package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/shift-donations/internal/models"
	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ShiftHandler exposes the donation shift lifecycle.
type ShiftHandler struct {
	shifts *service.ShiftService
}

func NewShiftHandler(shifts *service.ShiftService) *ShiftHandler {
	return &ShiftHandler{shifts: shifts}
}

type createShiftRequest struct {
	DepositToken   string `json:"depositToken"`
	DepositNetwork string `json:"depositNetwork"`
	SettleToken    string `json:"settleToken"`
	SettleNetwork  string `json:"settleNetwork"`
	CreatorWallet  string `json:"creatorWallet"`
	DonorWallet    string `json:"donorWallet"`
	RefundAddress  string `json:"refundAddress"`
	Amount         string `json:"amount"`
}

// CreateShift handles POST /v1/shifts.
func (h *ShiftHandler) CreateShift(w http.ResponseWriter, r *http.Request) {
	var req createShiftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	res, err := h.shifts.CreateShift(r.Context(), service.CreateShiftRequest{
		DepositToken:   req.DepositToken,
		DepositNetwork: req.DepositNetwork,
		SettleToken:    req.SettleToken,
		SettleNetwork:  req.SettleNetwork,
		CreatorWallet:  req.CreatorWallet,
		DonorWallet:    req.DonorWallet,
		RefundAddress:  req.RefundAddress,
		Amount:         req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, err, "create shift")
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

// GetStatus handles GET /v1/shifts/status?id= with a local or provider id.
func (h *ShiftHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("id"))
	if ref == "" {
		respondProblem(w, r, http.StatusBadRequest, "request/missing-fields", "Missing shift id", map[string]any{"fields": []string{"id"}})
		return
	}
	res, err := h.shifts.RefreshByReference(r.Context(), ref)
	if err != nil {
		writeServiceError(w, r, err, "get shift status")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

type cancelShiftResponse struct {
	Success         bool   `json:"success"`
	ShiftID         string `json:"shiftId"`
	ExternalOrderID string `json:"externalOrderId"`
	Status          string `json:"status"`
	CancelledAt     string `json:"cancelledAt"`
}

// Cancel handles POST /v1/shifts/cancel with the provider order id.
func (h *ShiftHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		respondProblem(w, r, http.StatusBadRequest, "request/missing-fields", "Missing orderId", map[string]any{"fields": []string{"orderId"}})
		return
	}

	res, err := h.shifts.CancelByExternalID(r.Context(), req.OrderID)
	if err != nil {
		writeServiceError(w, r, err, "cancel shift")
		return
	}

	out := cancelShiftResponse{
		Success:         true,
		ExternalOrderID: res.ExternalOrderID,
		Status:          res.Status,
		CancelledAt:     res.CancelledAt.Format(rfc3339Micro),
	}
	if res.ShiftID != uuid.Nil {
		out.ShiftID = res.ShiftID.String()
	}
	RespondJSON(w, http.StatusOK, out)
}

// SessionEnd handles POST /v1/shifts/{id}/session-end. It always answers 202; the
// cancellation itself happens in the background.
func (h *ShiftHandler) SessionEnd(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-shift-id", "Invalid shift id")
		return
	}
	h.shifts.CancelOnSessionEnd(r.Context(), id)
	RespondJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "shiftId": id.String()})
}

// Mine handles POST /v1/shifts/mine and lists the shifts a donor wallet sent.
func (h *ShiftHandler) Mine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	shifts, err := h.shifts.ListForDonor(r.Context(), req.Wallet)
	if err != nil {
		writeServiceError(w, r, err, "list shifts")
		return
	}
	RespondJSON(w, http.StatusOK, map[string][]models.ShiftOrder{"shifts": shifts})
}

const rfc3339Micro = "2006-01-02T15:04:05.000000Z07:00"
