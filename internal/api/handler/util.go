package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/shift-donations/internal/api/problem"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	respondProblem(w, r, status, problemType, message, nil)
}

func respondProblem(w http.ResponseWriter, r *http.Request, status int, problemType, message string, extra map[string]any) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.WriteWithContext(w, r, status, problemType, http.StatusText(status), message, extra)
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}

// writeServiceError maps service, gateway and database errors onto problem responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var (
		missing  *service.MissingFieldError
		invalid  *service.ValidationError
		tooEarly *service.TooEarlyError
		quoteErr *service.QuoteError
		bounds   *gateway.BoundsError
		upstream *gateway.UpstreamError
	)

	switch {
	case errors.As(err, &missing):
		respondProblem(w, r, http.StatusBadRequest, "request/missing-fields", err.Error(), map[string]any{"fields": missing.Fields})
	case errors.As(err, &invalid):
		respondProblem(w, r, http.StatusBadRequest, "request/invalid-field", err.Error(), map[string]any{"field": invalid.Field})
	case errors.Is(err, service.ErrReconciliationGap):
		zap.L().Error(op+" left a reconciliation gap", zap.Error(err), zap.String("trace_id", service.TraceIDFrom(r.Context())))
		respondProblem(w, r, http.StatusInternalServerError, "shift/not-recorded", "Order was created by the provider but could not be recorded", map[string]any{
			"trace_id": service.TraceIDFrom(r.Context()),
		})
	case errors.Is(err, service.ErrShiftNotFound), errors.Is(err, gateway.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "shift/not-found", "Shift not found")
	case errors.Is(err, service.ErrIdentityNotFound):
		RespondError(w, r, http.StatusNotFound, "identity/not-found", "Identity not found")
	case errors.Is(err, service.ErrGapNotFound):
		RespondError(w, r, http.StatusNotFound, "reconciliation/gap-not-found", err.Error())
	case errors.Is(err, service.ErrNotCancellable):
		RespondError(w, r, http.StatusConflict, "shift/not-cancellable", "Shift can only be cancelled while waiting for a deposit")
	case errors.As(err, &tooEarly):
		writeTooEarly(w, r, tooEarly)
	case errors.Is(err, service.ErrQuoteSuperseded):
		RespondError(w, r, http.StatusConflict, "quote/superseded", err.Error())
	case errors.As(err, &quoteErr):
		writeQuoteError(w, r, quoteErr)
	case errors.As(err, &bounds):
		respondProblem(w, r, http.StatusUnprocessableEntity, "quote/out-of-bounds", bounds.Error(), map[string]any{
			"side":  bounds.Side,
			"limit": bounds.Limit.String(),
		})
	case errors.As(err, &upstream):
		writeUpstreamError(w, r, upstream, op)
	case errors.Is(err, context.DeadlineExceeded):
		zap.L().Warn(op+" timed out", zap.Error(err), zap.String("trace_id", service.TraceIDFrom(r.Context())))
		RespondError(w, r, http.StatusGatewayTimeout, "provider/timeout", "Upstream request timed out")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", service.TraceIDFrom(r.Context())))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "Internal server error")
	}
}

func writeTooEarly(w http.ResponseWriter, r *http.Request, e *service.TooEarlyError) {
	extra := map[string]any{}
	if !e.CancellableAt.IsZero() {
		extra["cancellable_at"] = e.CancellableAt.UTC().Format(time.RFC3339)
	}
	if e.Remaining > 0 {
		seconds := int(math.Ceil(e.Remaining.Seconds()))
		extra["remaining_seconds"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	if e.Reason != "" {
		extra["provider_reason"] = e.Reason
	}
	respondProblem(w, r, http.StatusBadRequest, "shift/too-early", e.Error(), extra)
}

func writeQuoteError(w http.ResponseWriter, r *http.Request, e *service.QuoteError) {
	extra := map[string]any{"kind": e.Kind}
	if e.Token != "" {
		extra["token"] = e.Token
	}
	status := http.StatusBadRequest
	switch e.Kind {
	case service.QuoteErrBelowMinimum, service.QuoteErrAboveMaximum:
		status = http.StatusUnprocessableEntity
		extra["limit"] = e.Limit.String()
	}
	respondProblem(w, r, status, "quote/"+strings.ReplaceAll(e.Kind, "_", "-"), e.Message, extra)
}

// writeUpstreamError passes provider client errors through with the provider's reason.
// Anything else is reported as a bad gateway.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, e *gateway.UpstreamError, op string) {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		message := e.Message
		if message == "" {
			message = http.StatusText(e.StatusCode)
		}
		RespondError(w, r, e.StatusCode, "provider/rejected", message)
		return
	}
	zap.L().Warn(op+" provider failure",
		zap.Int("provider_status", e.StatusCode),
		zap.String("provider_message", e.Message),
		zap.String("trace_id", service.TraceIDFrom(r.Context())),
	)
	RespondError(w, r, http.StatusBadGateway, "provider/unavailable", "Swap provider unavailable")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
