package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	calls atomic.Int32
	batch atomic.Int32
	err   error
}

func (f *fakeSyncer) SyncOpenShifts(_ context.Context, batch int32) (int, error) {
	f.calls.Add(1)
	f.batch.Store(batch)
	return 2, f.err
}

func TestStatusSyncWorker_ProcessOnce(t *testing.T) {
	syncer := &fakeSyncer{}
	w := NewStatusSyncWorker(syncer).WithBatchSize(7)

	changed, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Equal(t, int32(7), syncer.batch.Load())

	syncer.err = errors.New("db gone")
	_, err = w.ProcessOnce(context.Background())
	assert.EqualError(t, err, "db gone")
}

func TestStatusSyncWorker_RunTicksUntilStopped(t *testing.T) {
	syncer := &fakeSyncer{}
	w := NewStatusSyncWorker(syncer).WithPollInterval(5 * time.Millisecond)

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	stop()
	stop()
	assert.Equal(t, "StatusSyncWorker(interval=5ms, batch=20)", w.String())
}

type fakeReconciler struct {
	runs atomic.Int32
}

func (f *fakeReconciler) Run(context.Context) (service.ReconciliationReport, error) {
	f.runs.Add(1)
	return service.ReconciliationReport{Repaired: 1}, nil
}

func TestReconciliationWorker_RunsImmediately(t *testing.T) {
	rec := &fakeReconciler{}
	w := NewReconciliationWorker(rec).WithInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Run(ctx)

	require.Eventually(t, func() bool { return rec.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	w.Stop()
}
