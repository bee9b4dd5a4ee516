package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/ayo6706/shift-donations/internal/models"
	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	gapRecordTimeout    = 5 * time.Second
	sessionEndCancelTTL = 30 * time.Second
)

var errStatusMoved = errors.New("shift status changed concurrently")

// DefaultCommissionRate is the affiliate commission used when none is configured.
var DefaultCommissionRate = decimal.RequireFromString("0.02")

// ShiftService orchestrates the donation shift lifecycle across the provider and the store.
type ShiftService struct {
	store          QueryStore
	gateway        gateway.Gateway
	audit          *AuditService
	now            Clock
	wait           func(ctx context.Context, d time.Duration) error
	affiliateID    string
	commissionRate decimal.Decimal

	mu          sync.Mutex
	closed      bool
	bgCtx       context.Context
	bgCancel    context.CancelFunc
	wg          sync.WaitGroup
	sessionEnds map[uuid.UUID]struct{}
	syncCursor  pgtype.UUID
}

type ShiftOption func(*ShiftService)

// WithClock replaces the service time source.
func WithClock(now Clock) ShiftOption {
	return func(s *ShiftService) { s.now = now }
}

// WithWaiter replaces how cancel-on-session-end waits for the grace period to elapse.
func WithWaiter(wait func(ctx context.Context, d time.Duration) error) ShiftOption {
	return func(s *ShiftService) { s.wait = wait }
}

// WithAffiliate sets the affiliate id and commission rate sent with every order.
func WithAffiliate(affiliateID string, commissionRate decimal.Decimal) ShiftOption {
	return func(s *ShiftService) {
		s.affiliateID = affiliateID
		s.commissionRate = commissionRate
	}
}

func NewShiftService(store QueryStore, gw gateway.Gateway, opts ...ShiftOption) *ShiftService {
	bgCtx, cancel := context.WithCancel(context.Background())
	s := &ShiftService{
		store:          store,
		gateway:        gw,
		audit:          NewAuditService(),
		now:            systemClock,
		wait:           sleepContext,
		commissionRate: DefaultCommissionRate,
		bgCtx:          bgCtx,
		bgCancel:       cancel,
		sessionEnds:    make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateShiftRequest carries a donor's request to open a shift.
type CreateShiftRequest struct {
	DepositToken   string
	DepositNetwork string
	SettleToken    string
	SettleNetwork  string
	CreatorWallet  string
	DonorWallet    string
	RefundAddress  string
	Amount         string
}

// Validate reports every missing field at once and parses the amount.
func (r CreateShiftRequest) Validate() (decimal.Decimal, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"depositToken", r.DepositToken},
		{"depositNetwork", r.DepositNetwork},
		{"settleToken", r.SettleToken},
		{"settleNetwork", r.SettleNetwork},
		{"creatorWallet", r.CreatorWallet},
		{"donorWallet", r.DonorWallet},
		{"amount", r.Amount},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return decimal.Zero, &MissingFieldError{Fields: missing}
	}
	amount, err := domain.ParseAmount(r.Amount)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: err.Error()}
	}
	return amount, nil
}

// ProviderEcho is the subset of the provider response returned to the caller.
type ProviderEcho struct {
	ID             string     `json:"id"`
	DepositAddress string     `json:"depositAddress"`
	SettleToken    string     `json:"settleCoin"`
	SettleNetwork  string     `json:"settleNetwork"`
	Status         string     `json:"status"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

type CreateShiftResult struct {
	TraceID      string            `json:"traceId"`
	Order        models.ShiftOrder `json:"order"`
	ProviderEcho ProviderEcho      `json:"providerEcho"`
}

// CreateShift opens a provider order and mirrors it locally together with both identities.
func (s *ShiftService) CreateShift(ctx context.Context, req CreateShiftRequest) (*CreateShiftResult, error) {
	traceID := TraceIDFrom(ctx)
	log := zap.L().With(zap.String("trace_id", traceID))

	amount, err := req.Validate()
	if err != nil {
		log.Info("shift create rejected", zap.Error(err))
		return nil, err
	}

	donorWallet := strings.TrimSpace(req.DonorWallet)
	creatorWallet := strings.TrimSpace(req.CreatorWallet)
	refundAddress := strings.TrimSpace(req.RefundAddress)
	if refundAddress == "" {
		refundAddress = donorWallet
	}

	order, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderParams{
		DepositToken:   strings.TrimSpace(req.DepositToken),
		DepositNetwork: strings.TrimSpace(req.DepositNetwork),
		SettleToken:    strings.TrimSpace(req.SettleToken),
		SettleNetwork:  strings.TrimSpace(req.SettleNetwork),
		SettleAddress:  creatorWallet,
		RefundAddress:  refundAddress,
		AffiliateID:    s.affiliateID,
		CommissionRate: s.commissionRate,
	})
	if err != nil {
		log.Warn("provider order create failed", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("external_order_id", order.ID))

	status := domain.ShiftStatusWaiting
	if order.Status != "" {
		status = normalizeProviderStatus(order.Status, domain.ShiftStatusWaiting)
	}
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	localID := uuid.New()
	refund := refundAddress

	var row repository.ShiftOrder
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		donor, err := ensureDonor(ctx, q, donorWallet)
		if err != nil {
			return err
		}
		creator, err := ensureCreatorRole(ctx, q, creatorWallet)
		if err != nil {
			return err
		}

		row, err = q.CreateShiftOrder(ctx, repository.CreateShiftOrderParams{
			ID:              repository.ToPgUUID(localID),
			ExternalOrderID: order.ID,
			CreatorID:       creator.ID,
			DonorID:         donor.ID,
			DepositToken:    strings.TrimSpace(req.DepositToken),
			DepositNetwork:  strings.TrimSpace(req.DepositNetwork),
			SettleToken:     strings.TrimSpace(req.SettleToken),
			SettleNetwork:   strings.TrimSpace(req.SettleNetwork),
			DonorAddress:    donorWallet,
			CreatorAddress:  creatorWallet,
			SettleAddress:   order.DepositAddress,
			RefundAddress:   &refund,
			Amount:          amount,
			Status:          status,
			CreatedAt:       repository.ToPgTime(createdAt),
			ExpiresAt:       repository.ToPgTime(order.ExpiresAt),
			CancellableAt:   repository.ToPgTime(createdAt.Add(domain.CancelGracePeriod)),
		})
		if err != nil {
			return fmt.Errorf("insert shift order: %w", err)
		}

		return s.audit.Write(ctx, q, localID, traceID, domain.ShiftEventCreated, "", status, map[string]any{
			"deposit_address": order.DepositAddress,
			"provider_status": order.Status,
		})
	})
	if err != nil {
		s.recordGap(ctx, domain.GapKindCreate, order.ID, traceID, err, order.Raw)
		return nil, fmt.Errorf("%w: shift %s: %v", ErrReconciliationGap, order.ID, err)
	}

	log.Info("shift created",
		zap.String("shift_id", localID.String()),
		zap.String("deposit_address", order.DepositAddress),
		zap.String("status", status),
	)

	echo := ProviderEcho{
		ID:             order.ID,
		DepositAddress: order.DepositAddress,
		SettleToken:    order.SettleToken,
		SettleNetwork:  order.SettleNetwork,
		Status:         order.Status,
	}
	if !order.ExpiresAt.IsZero() {
		expires := order.ExpiresAt
		echo.ExpiresAt = &expires
	}
	return &CreateShiftResult{
		TraceID:      traceID,
		Order:        toShiftModel(row),
		ProviderEcho: echo,
	}, nil
}

// RefreshResult is a status snapshot. Order is nil when the provider knows the order but the store does not.
type RefreshResult struct {
	Order          *models.ShiftOrder `json:"order,omitempty"`
	ProviderStatus string             `json:"providerStatus"`
	Changed        bool               `json:"changed"`
	Provider       json.RawMessage    `json:"provider,omitempty"`
}

// RefreshStatus pulls the provider snapshot for a local shift and applies a legal status change.
func (s *ShiftService) RefreshStatus(ctx context.Context, localID uuid.UUID) (*RefreshResult, error) {
	row, err := s.store.Queries().GetShiftOrder(ctx, repository.ToPgUUID(localID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return s.refresh(ctx, row)
}

// RefreshByReference accepts a local id or a provider order id. Provider ids with no local
// record return the provider snapshot alone.
func (s *ShiftService) RefreshByReference(ctx context.Context, ref string) (*RefreshResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &MissingFieldError{Fields: []string{"id"}}
	}
	if id, err := uuid.Parse(ref); err == nil {
		res, err := s.RefreshStatus(ctx, id)
		if !errors.Is(err, ErrShiftNotFound) {
			return res, err
		}
	}

	row, err := s.store.Queries().GetShiftOrderByExternalID(ctx, ref)
	if err == nil {
		return s.refresh(ctx, row)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get shift by external id: %w", err)
	}

	snap, err := s.gateway.GetStatus(ctx, ref)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrShiftNotFound
		}
		return nil, err
	}
	return &RefreshResult{ProviderStatus: snap.Status, Provider: snap.Raw}, nil
}

func (s *ShiftService) refresh(ctx context.Context, row repository.ShiftOrder) (*RefreshResult, error) {
	traceID := TraceIDFrom(ctx)
	log := zap.L().With(
		zap.String("trace_id", traceID),
		zap.String("external_order_id", row.ExternalOrderID),
	)

	snap, err := s.gateway.GetStatus(ctx, row.ExternalOrderID)
	if err != nil {
		return nil, err
	}

	current := row.Status
	next := normalizeProviderStatus(snap.Status, current)
	order := toShiftModel(row)
	result := &RefreshResult{Order: &order, ProviderStatus: snap.Status, Provider: snap.Raw}

	if next == current || isTerminal(current) {
		return result, nil
	}
	if !canTransition(current, next) {
		log.Warn("ignoring provider status that would move shift backwards",
			zap.String("local_status", current),
			zap.String("provider_status", snap.Status),
		)
		return result, nil
	}

	shiftID := repository.FromPgUUID(row.ID)
	var updated repository.ShiftOrder
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.UpdateShiftStatus(ctx, repository.UpdateShiftStatusParams{
			ExternalOrderID: row.ExternalOrderID,
			Status:          next,
			FromStatuses:    []string{current},
		})
		if err != nil {
			return fmt.Errorf("update shift status: %w", err)
		}
		if rows == 0 {
			return errStatusMoved
		}
		if err := s.audit.Write(ctx, q, shiftID, traceID, domain.ShiftEventStatusChanged, current, next, map[string]any{
			"provider_status": snap.Status,
		}); err != nil {
			return err
		}
		updated, err = q.GetShiftOrder(ctx, row.ID)
		return err
	})
	if errors.Is(err, errStatusMoved) {
		latest, getErr := s.store.Queries().GetShiftOrder(ctx, row.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload shift: %w", getErr)
		}
		order = toShiftModel(latest)
		result.Order = &order
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("shift status changed", zap.String("from", current), zap.String("to", next))
	order = toShiftModel(updated)
	result.Order = &order
	result.Changed = true
	return result, nil
}

// CancelResult reports an accepted cancellation. ShiftID is uuid.Nil when no local record exists.
type CancelResult struct {
	ShiftID         uuid.UUID `json:"shiftId"`
	ExternalOrderID string    `json:"externalOrderId"`
	Status          string    `json:"status"`
	CancelledAt     time.Time `json:"cancelledAt"`
}

// CancelShift cancels a shift by local id.
func (s *ShiftService) CancelShift(ctx context.Context, localID uuid.UUID) (*CancelResult, error) {
	row, err := s.store.Queries().GetShiftOrder(ctx, repository.ToPgUUID(localID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return s.cancel(ctx, &row, row.ExternalOrderID)
}

// CancelByExternalID cancels a shift by provider order id. The provider is still asked to cancel
// when no local record exists.
func (s *ShiftService) CancelByExternalID(ctx context.Context, externalOrderID string) (*CancelResult, error) {
	externalOrderID = strings.TrimSpace(externalOrderID)
	if externalOrderID == "" {
		return nil, &MissingFieldError{Fields: []string{"orderId"}}
	}
	row, err := s.store.Queries().GetShiftOrderByExternalID(ctx, externalOrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.cancel(ctx, nil, externalOrderID)
		}
		return nil, fmt.Errorf("get shift by external id: %w", err)
	}
	return s.cancel(ctx, &row, externalOrderID)
}

func (s *ShiftService) cancel(ctx context.Context, row *repository.ShiftOrder, externalOrderID string) (*CancelResult, error) {
	traceID := TraceIDFrom(ctx)
	log := zap.L().With(zap.String("trace_id", traceID), zap.String("external_order_id", externalOrderID))
	now := s.now().UTC()

	if row != nil {
		if !isCancellable(row.Status) {
			log.Info("cancel rejected", zap.String("status", row.Status))
			return nil, ErrNotCancellable
		}
		if cancellableAt := row.CancellableAt.Time; now.Before(cancellableAt) {
			log.Info("cancel rejected inside grace period", zap.Time("cancellable_at", cancellableAt))
			return nil, &TooEarlyError{CancellableAt: cancellableAt, Remaining: cancellableAt.Sub(now)}
		}
	}

	if err := s.gateway.Cancel(ctx, externalOrderID); err != nil {
		var ue *gateway.UpstreamError
		if errors.As(err, &ue) && isGracePeriodRejection(ue.Message) {
			tooEarly := &TooEarlyError{Reason: ue.Message}
			if row != nil {
				tooEarly.CancellableAt = row.CancellableAt.Time
				tooEarly.Remaining = max(row.CancellableAt.Time.Sub(now), 0)
			}
			log.Info("provider rejected cancel inside grace period", zap.String("reason", ue.Message))
			return nil, tooEarly
		}
		log.Warn("provider cancel failed", zap.Error(err))
		return nil, err
	}

	cancelledAt := now.Truncate(time.Microsecond)
	result := &CancelResult{
		ExternalOrderID: externalOrderID,
		Status:          domain.ShiftStatusCancelled,
		CancelledAt:     cancelledAt,
	}
	if row == nil {
		log.Warn("provider cancelled order with no local record")
		return result, nil
	}

	shiftID := repository.FromPgUUID(row.ID)
	result.ShiftID = shiftID
	var updated int64
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.UpdateShiftStatus(ctx, repository.UpdateShiftStatusParams{
			ExternalOrderID: externalOrderID,
			Status:          domain.ShiftStatusCancelled,
			CancelledAt:     repository.ToPgTime(cancelledAt),
			FromStatuses:    cancellableFrom,
		})
		if err != nil {
			return fmt.Errorf("update shift status: %w", err)
		}
		updated = rows
		if rows == 0 {
			return nil
		}
		return s.audit.Write(ctx, q, shiftID, traceID, domain.ShiftEventCancelled, row.Status, domain.ShiftStatusCancelled, nil)
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]any{"cancelledAt": cancelledAt, "shiftId": shiftID})
		s.recordGap(ctx, domain.GapKindCancel, externalOrderID, traceID, err, payload)
		return result, nil
	}
	if updated == 0 {
		log.Warn("provider cancelled order but no local row was updated", zap.String("shift_id", shiftID.String()))
		return result, nil
	}

	log.Info("shift cancelled", zap.String("shift_id", shiftID.String()))
	return result, nil
}

// isGracePeriodRejection recognises the provider's "too early to cancel" reason.
func isGracePeriodRejection(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "cancelled after") ||
		(strings.Contains(m, "cancelled") && strings.Contains(m, "minutes after")) ||
		strings.Contains(m, "too early") ||
		strings.Contains(m, "grace period")
}

// CancelOnSessionEnd schedules a best-effort cancel for a shift whose client went away.
// It returns immediately; the attempt happens in the background once the grace period has
// elapsed and only if the shift is still waiting for a deposit.
func (s *ShiftService) CancelOnSessionEnd(ctx context.Context, localID uuid.UUID) {
	traceID := TraceIDFrom(ctx)
	log := zap.L().With(zap.String("trace_id", traceID), zap.String("shift_id", localID.String()))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Warn("session-end cancel ignored: service closing")
		return
	}
	if _, pending := s.sessionEnds[localID]; pending {
		s.mu.Unlock()
		log.Debug("session-end cancel already scheduled")
		return
	}
	s.sessionEnds[localID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessionEnds, localID)
			s.mu.Unlock()
		}()
		result := s.runSessionEndCancel(WithTraceID(s.bgCtx, traceID), localID, log)
		observability.IncrementSessionEndCancel(result)
	}()
}

func (s *ShiftService) runSessionEndCancel(ctx context.Context, localID uuid.UUID, log *zap.Logger) string {
	row, err := s.store.Queries().GetShiftOrder(ctx, repository.ToPgUUID(localID))
	if err != nil {
		log.Warn("session-end cancel: shift lookup failed", zap.Error(err))
		return "lookup_failed"
	}
	if row.Status != domain.ShiftStatusWaiting {
		log.Info("session-end cancel skipped", zap.String("status", row.Status))
		return "skipped"
	}

	if wait := row.CancellableAt.Time.Sub(s.now()); wait > 0 {
		if err := s.wait(ctx, wait); err != nil {
			log.Info("session-end cancel abandoned", zap.Error(err))
			return "abandoned"
		}
		row, err = s.store.Queries().GetShiftOrder(ctx, row.ID)
		if err != nil {
			log.Warn("session-end cancel: shift reload failed", zap.Error(err))
			return "lookup_failed"
		}
		if row.Status != domain.ShiftStatusWaiting {
			log.Info("session-end cancel skipped", zap.String("status", row.Status))
			return "skipped"
		}
	}

	cctx, cancel := context.WithTimeout(ctx, sessionEndCancelTTL)
	defer cancel()
	if _, err := s.cancel(cctx, &row, row.ExternalOrderID); err != nil {
		log.Warn("session-end cancel failed", zap.Error(err))
		return "failed"
	}
	return "cancelled"
}

// Close stops pending session-end cancellations and waits for them to exit.
func (s *ShiftService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.bgCancel()
	s.wg.Wait()
}

// ListForDonor returns the shifts a wallet sent, newest first.
func (s *ShiftService) ListForDonor(ctx context.Context, wallet string) ([]models.ShiftOrder, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, &MissingFieldError{Fields: []string{"wallet"}}
	}
	rows, err := s.store.Queries().ListShiftOrdersByDonor(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list donor shifts: %w", err)
	}
	return toShiftModels(rows), nil
}

// ListForCreator returns the shifts a wallet received, newest first.
func (s *ShiftService) ListForCreator(ctx context.Context, wallet string) ([]models.ShiftOrder, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, &MissingFieldError{Fields: []string{"wallet"}}
	}
	rows, err := s.store.Queries().ListShiftOrdersByCreator(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list creator shifts: %w", err)
	}
	return toShiftModels(rows), nil
}

// SyncOpenShifts refreshes up to batch non-terminal shifts, resuming after the last one seen
// on the previous call. It returns how many changed status.
func (s *ShiftService) SyncOpenShifts(ctx context.Context, batch int32) (int, error) {
	s.mu.Lock()
	cursor := s.syncCursor
	s.mu.Unlock()

	rows, err := s.store.Queries().ListOpenShiftOrders(ctx, repository.ListOpenShiftOrdersParams{
		AfterID: cursor,
		Limit:   batch,
	})
	if err != nil {
		return 0, fmt.Errorf("list open shifts: %w", err)
	}

	next := pgtype.UUID{}
	if len(rows) == int(batch) && len(rows) > 0 {
		next = rows[len(rows)-1].ID
	}
	s.mu.Lock()
	s.syncCursor = next
	s.mu.Unlock()

	changed := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		res, err := s.refresh(ctx, row)
		if err != nil {
			if errors.Is(err, gateway.ErrNotFound) {
				zap.L().Warn("open shift unknown to provider", zap.String("external_order_id", row.ExternalOrderID))
				continue
			}
			zap.L().Warn("status sync failed", zap.String("external_order_id", row.ExternalOrderID), zap.Error(err))
			continue
		}
		if res.Changed {
			changed++
		}
	}
	return changed, nil
}

func (s *ShiftService) recordGap(ctx context.Context, kind, externalOrderID, traceID string, cause error, payload []byte) {
	observability.IncrementReconciliationGap(kind)
	zap.L().Error("reconciliation gap: provider state not mirrored locally",
		zap.String("kind", kind),
		zap.String("trace_id", traceID),
		zap.String("external_order_id", externalOrderID),
		zap.ByteString("provider_payload", payload),
		zap.Error(cause),
	)

	if len(payload) > 0 && !json.Valid(payload) {
		payload = nil
	}
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gapRecordTimeout)
	defer cancel()
	if _, err := s.store.Queries().InsertReconciliationGap(gctx, repository.InsertReconciliationGapParams{
		Kind:            kind,
		ExternalOrderID: externalOrderID,
		TraceID:         traceID,
		Detail:          cause.Error(),
		Payload:         payload,
	}); err != nil {
		zap.L().Error("failed to record reconciliation gap",
			zap.String("kind", kind),
			zap.String("external_order_id", externalOrderID),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
