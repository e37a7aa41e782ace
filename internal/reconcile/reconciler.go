// Package reconcile repairs the gap between the ledger and the off-chain
// backend: operations confirmed on-chain whose backend sync exhausted its
// retries are periodically replayed until the backend accepts them.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/orchestrator"
)

// Reconciler scans for records stuck in the backend-sync-failed state and
// replays their backend writes. Backend writes are idempotent on the
// confirmed hash, so replaying an already-applied record is harmless.
type Reconciler struct {
	store     domain.OperationStore
	syncer    *orchestrator.Syncer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// New creates a Reconciler sweeping every interval, at most batchSize
// records per sweep.
func New(store domain.OperationStore, syncer *orchestrator.Syncer, interval time.Duration, batchSize int, logger *slog.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		store:     store,
		syncer:    syncer,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Run sweeps on the configured interval until the context ends. The first
// sweep happens immediately so a restart repairs backlog without waiting a
// full interval.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.sweep(ctx); err != nil {
		r.logger.Error("reconciler: sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				r.logger.Error("reconciler: sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) error {
	recs, err := r.store.ListByStatus(ctx, domain.StatusBackendSyncFailed, r.batchSize)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	var repaired int
	for _, rec := range recs {
		if err := r.syncer.Replay(ctx, rec); err != nil {
			r.logger.Warn("reconciler: replay failed",
				slog.String("record_id", rec.ID),
				slog.String("hash", rec.OperationHash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.store.UpdateStatus(ctx, rec.ID, domain.StatusDone, nil); err != nil {
			r.logger.Warn("reconciler: mark repaired",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		repaired++
	}

	r.logger.Info("reconciler: sweep complete",
		slog.Int("candidates", len(recs)),
		slog.Int("repaired", repaired),
	)
	return nil
}
