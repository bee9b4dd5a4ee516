package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/shift-donations/internal/domain"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationRun_RepairsCancelGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateShift(ctx, donationRequest())
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	f.store.FailOn("UpdateShiftStatus", errors.New("deadlock detected"))
	_, err = f.svc.CancelShift(ctx, created.Order.ID)
	require.NoError(t, err)

	rec := NewReconciliationService(f.store, f.gw)
	report, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Zero(t, report.Open)

	row, err := f.store.GetShiftOrder(ctx, repository.ToPgUUID(created.Order.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusCancelled, row.Status)
	assert.True(t, row.CancelledAt.Valid)

	events := f.store.Events()
	assert.Equal(t, domain.ShiftEventGapRepaired, events[len(events)-1].Action)

	gaps := f.store.Gaps()
	require.Len(t, gaps, 1)
	require.NotNil(t, gaps[0].Resolution)
	assert.Equal(t, "cancelled status applied", *gaps[0].Resolution)
}

func TestReconciliationRun_KeepsCreateGapOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailOn("CreateShiftOrder", errors.New("connection reset"))
	_, err := f.svc.CreateShift(ctx, donationRequest())
	require.Error(t, err)

	rec := NewReconciliationService(f.store, f.gw)
	report, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repaired)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, int64(1), report.Open)
	assert.Equal(t, 1, f.gw.Calls("get_status"))
}

func TestReconciliationGapsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailOn("CreateShiftOrder", errors.New("connection reset"))
	_, err := f.svc.CreateShift(ctx, donationRequest())
	require.Error(t, err)

	rec := NewReconciliationService(f.store, f.gw)

	gaps, err := rec.ListGaps(ctx, "create", 0)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.NotEmpty(t, gaps[0].Payload)

	cancelGaps, err := rec.ListGaps(ctx, "cancel", 10)
	require.NoError(t, err)
	assert.Empty(t, cancelGaps)

	_, err = rec.ListGaps(ctx, "payout", 10)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	err = rec.ResolveGap(ctx, gaps[0].ID, " ")
	var missing *MissingFieldError
	assert.ErrorAs(t, err, &missing)

	require.NoError(t, rec.ResolveGap(ctx, gaps[0].ID, "order refunded manually"))
	assert.ErrorIs(t, rec.ResolveGap(ctx, gaps[0].ID, "again"), ErrGapNotFound)

	open, err := rec.ListGaps(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, open)
}
