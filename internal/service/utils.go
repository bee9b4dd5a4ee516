package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/shift-donations/internal/models"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/google/uuid"
)

type traceIDKey struct{}

// WithTraceID attaches a caller-facing trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFrom returns the trace id carried by ctx, or a fresh "shift_xxxxxxxx" id.
func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok && v != "" {
		return v
	}
	return NewTraceID()
}

func NewTraceID() string {
	return "shift_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func toShiftModel(row repository.ShiftOrder) models.ShiftOrder {
	out := models.ShiftOrder{
		ID:              repository.FromPgUUID(row.ID),
		ExternalOrderID: row.ExternalOrderID,
		CreatorID:       repository.FromPgUUID(row.CreatorID),
		DonorID:         repository.FromPgUUID(row.DonorID),
		DepositToken:    row.DepositToken,
		DepositNetwork:  row.DepositNetwork,
		SettleToken:     row.SettleToken,
		SettleNetwork:   row.SettleNetwork,
		DonorAddress:    row.DonorAddress,
		CreatorAddress:  row.CreatorAddress,
		SettleAddress:   row.SettleAddress,
		Amount:          row.Amount,
		Status:          row.Status,
		CreatedAt:       row.CreatedAt.Time,
		ExpiresAt:       repository.TimePtr(row.ExpiresAt),
		CancellableAt:   row.CancellableAt.Time,
		CancelledAt:     repository.TimePtr(row.CancelledAt),
		UpdatedAt:       row.UpdatedAt.Time,
	}
	if row.RefundAddress != nil {
		out.RefundAddress = *row.RefundAddress
	}
	return out
}

func toShiftModels(rows []repository.ShiftOrder) []models.ShiftOrder {
	out := make([]models.ShiftOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, toShiftModel(row))
	}
	return out
}

func toIdentityModel(row repository.Identity) models.Identity {
	return models.Identity{
		ID:                     repository.FromPgUUID(row.ID),
		WalletAddress:          row.WalletAddress,
		DisplayName:            row.DisplayName,
		PreferredSettleToken:   row.PreferredSettleToken,
		PreferredSettleNetwork: row.PreferredSettleNetwork,
		IsCreator:              row.IsCreator,
		IsDonor:                row.IsDonor,
		CreatedAt:              row.CreatedAt.Time,
		UpdatedAt:              row.UpdatedAt.Time,
	}
}

func toGapModel(row repository.ReconciliationGap) models.ReconciliationGap {
	return models.ReconciliationGap{
		ID:              row.ID,
		Kind:            row.Kind,
		ExternalOrderID: row.ExternalOrderID,
		TraceID:         row.TraceID,
		Detail:          row.Detail,
		Payload:         row.Payload,
		CreatedAt:       row.CreatedAt.Time,
		ResolvedAt:      repository.TimePtr(row.ResolvedAt),
		Resolution:      row.Resolution,
	}
}

// Clock is the time source used by services.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
