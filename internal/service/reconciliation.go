package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/ayo6706/shift-donations/internal/models"
	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const reconciliationBatch = 100

// ReconciliationService repairs drift between the provider and the local store.
type ReconciliationService struct {
	store   QueryStore
	gateway gateway.Gateway
	audit   *AuditService
	now     Clock
}

func NewReconciliationService(store QueryStore, gw gateway.Gateway) *ReconciliationService {
	return &ReconciliationService{store: store, gateway: gw, audit: NewAuditService(), now: systemClock}
}

// ReconciliationReport summarises one pass.
type ReconciliationReport struct {
	Repaired int
	Pending  int
	Open     int64
}

// Run walks open gaps. Cancel gaps are repaired by re-applying the cancelled status.
// Create gaps are checked against the provider and left open for an operator.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport

	gaps, err := s.store.Queries().ListOpenReconciliationGaps(ctx, repository.ListOpenReconciliationGapsParams{
		Limit: reconciliationBatch,
	})
	if err != nil {
		return report, fmt.Errorf("list open gaps: %w", err)
	}

	for _, gap := range gaps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := zap.L().With(
			zap.Int64("gap_id", gap.ID),
			zap.String("kind", gap.Kind),
			zap.String("external_order_id", gap.ExternalOrderID),
			zap.String("trace_id", gap.TraceID),
		)

		var repaired bool
		switch gap.Kind {
		case domain.GapKindCancel:
			repaired, err = s.repairCancel(ctx, gap)
		case domain.GapKindCreate:
			repaired, err = s.checkCreate(ctx, gap, log)
		default:
			log.Warn("unknown reconciliation gap kind")
			continue
		}
		if err != nil {
			log.Error("reconciliation gap repair failed", zap.Error(err))
			report.Pending++
			continue
		}
		if repaired {
			log.Info("reconciliation gap resolved")
			report.Repaired++
		} else {
			report.Pending++
		}
	}

	open, err := s.store.Queries().CountOpenReconciliationGaps(ctx)
	if err != nil {
		return report, fmt.Errorf("count open gaps: %w", err)
	}
	report.Open = open
	observability.SetOpenReconciliationGaps(open)
	if open > 0 {
		zap.L().Warn("open reconciliation gaps remain", zap.Int64("open", open))
	}
	return report, nil
}

func (s *ReconciliationService) repairCancel(ctx context.Context, gap repository.ReconciliationGap) (bool, error) {
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		row, err := q.GetShiftOrderByExternalID(ctx, gap.ExternalOrderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.resolve(ctx, q, gap.ID, "no local shift for cancelled order")
		}
		if err != nil {
			return fmt.Errorf("get shift: %w", err)
		}

		if row.Status != domain.ShiftStatusCancelled {
			rows, err := q.UpdateShiftStatus(ctx, repository.UpdateShiftStatusParams{
				ExternalOrderID: gap.ExternalOrderID,
				Status:          domain.ShiftStatusCancelled,
				CancelledAt:     gap.CreatedAt,
				FromStatuses:    cancellableFrom,
			})
			if err != nil {
				return fmt.Errorf("update shift status: %w", err)
			}
			if rows == 0 {
				return s.resolve(ctx, q, gap.ID, "local status "+row.Status+" kept")
			}
			if err := s.audit.Write(ctx, q, repository.FromPgUUID(row.ID), gap.TraceID, domain.ShiftEventGapRepaired, row.Status, domain.ShiftStatusCancelled, map[string]any{
				"gap_id": gap.ID,
			}); err != nil {
				return err
			}
		}
		return s.resolve(ctx, q, gap.ID, "cancelled status applied")
	})
	return err == nil, err
}

// checkCreate reports whether the shift was mirrored after all. Otherwise it logs what the
// provider holds so an operator can decide.
func (s *ReconciliationService) checkCreate(ctx context.Context, gap repository.ReconciliationGap, log *zap.Logger) (bool, error) {
	if _, err := s.store.Queries().GetShiftOrderByExternalID(ctx, gap.ExternalOrderID); err == nil {
		err := s.resolve(ctx, s.store.Queries(), gap.ID, "local record present")
		return err == nil, err
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("get shift: %w", err)
	}

	snap, err := s.gateway.GetStatus(ctx, gap.ExternalOrderID)
	if errors.Is(err, gateway.ErrNotFound) {
		log.Warn("create gap order unknown to provider")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.Warn("create gap awaiting operator",
		zap.String("provider_status", snap.Status),
		zap.String("deposit_address", snap.DepositAddress),
	)
	return false, nil
}

func (s *ReconciliationService) resolve(ctx context.Context, q repository.Querier, id int64, resolution string) error {
	rows, err := q.ResolveReconciliationGap(ctx, repository.ResolveReconciliationGapParams{
		ID:         id,
		ResolvedAt: repository.ToPgTime(s.now()),
		Resolution: resolution,
	})
	if err != nil {
		return fmt.Errorf("resolve gap: %w", err)
	}
	return requireExactlyOne(rows, "resolve gap")
}

// ListGaps returns open gaps, oldest first. An empty kind lists every kind.
func (s *ReconciliationService) ListGaps(ctx context.Context, kind string, limit int32) ([]models.ReconciliationGap, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" && kind != domain.GapKindCreate && kind != domain.GapKindCancel {
		return nil, &ValidationError{Field: "kind", Message: "must be create or cancel"}
	}
	if limit <= 0 || limit > reconciliationBatch {
		limit = reconciliationBatch
	}
	rows, err := s.store.Queries().ListOpenReconciliationGaps(ctx, repository.ListOpenReconciliationGapsParams{
		Kind:  kind,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list open gaps: %w", err)
	}
	out := make([]models.ReconciliationGap, 0, len(rows))
	for _, row := range rows {
		out = append(out, toGapModel(row))
	}
	return out, nil
}

// ResolveGap closes a gap after an operator has dealt with it.
func (s *ReconciliationService) ResolveGap(ctx context.Context, id int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &MissingFieldError{Fields: []string{"reason"}}
	}
	rows, err := s.store.Queries().ResolveReconciliationGap(ctx, repository.ResolveReconciliationGapParams{
		ID:         id,
		ResolvedAt: repository.ToPgTime(s.now()),
		Resolution: reason,
	})
	if err != nil {
		return fmt.Errorf("resolve gap: %w", err)
	}
	if rows == 0 {
		return ErrGapNotFound
	}
	zap.L().Info("reconciliation gap resolved by operator", zap.Int64("gap_id", id), zap.String("resolution", reason))
	if open, err := s.store.Queries().CountOpenReconciliationGaps(ctx); err == nil {
		observability.SetOpenReconciliationGaps(open)
	}
	return nil
}
