package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/google/uuid"
)

// AuditService writes the immutable shift event trail.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

// Write stores a single shift event and counts it.
func (s *AuditService) Write(ctx context.Context, qtx repository.Querier, shiftID uuid.UUID, traceID, action, prevStatus, nextStatus string, metadata map[string]any) error {
	var raw []byte
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal shift event metadata: %w", err)
		}
		raw = b
	}

	if _, err := qtx.InsertShiftEvent(ctx, repository.InsertShiftEventParams{
		ShiftID:    repository.ToPgUUID(shiftID),
		TraceID:    textParam(traceID),
		Action:     action,
		PrevStatus: textParam(prevStatus),
		NextStatus: textParam(nextStatus),
		Metadata:   raw,
	}); err != nil {
		return fmt.Errorf("insert shift event: %w", err)
	}
	observability.IncrementShiftEvent(action)
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
