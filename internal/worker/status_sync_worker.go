package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/shift-donations/internal/observability"
	"go.uber.org/zap"
)

// ShiftSyncer refreshes a batch of open shifts from the provider.
type ShiftSyncer interface {
	SyncOpenShifts(ctx context.Context, batch int32) (int, error)
}

// StatusSyncWorker polls the provider for shifts that have not reached a terminal status.
type StatusSyncWorker struct {
	syncer       ShiftSyncer
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewStatusSyncWorker(syncer ShiftSyncer) *StatusSyncWorker {
	return &StatusSyncWorker{
		syncer:       syncer,
		pollInterval: 30 * time.Second,
		batchSize:    20,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *StatusSyncWorker) WithPollInterval(interval time.Duration) *StatusSyncWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets how many shifts are refreshed per tick.
func (w *StatusSyncWorker) WithBatchSize(size int32) *StatusSyncWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *StatusSyncWorker) Start(ctx context.Context) {
	zap.L().Info("status sync worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("status sync worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("status sync worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("status sync failed", zap.Error(err))
			}
		}
	}
}

func (w *StatusSyncWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce refreshes a single batch immediately and returns how many shifts changed.
func (w *StatusSyncWorker) ProcessOnce(ctx context.Context) (int, error) {
	changed, err := w.syncer.SyncOpenShifts(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("status_sync", "failed")
		return changed, err
	}
	observability.IncrementWorkerRun("status_sync", "success")
	if changed > 0 {
		zap.L().Info("shift statuses synced", zap.Int("changed", changed))
	}
	return changed, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *StatusSyncWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *StatusSyncWorker) String() string {
	return fmt.Sprintf("StatusSyncWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
