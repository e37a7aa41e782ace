package orchestrator

import (
	"context"
	"log/slog"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/lifecycle"
)

// Watcher observes the ledger for the fate of a pending record. It is
// purely observational: it performs no writes against the ledger and can be
// torn down and re-attached to the same hash without loss (records persist
// their hashes, and a fresh watcher resumes from the store at startup).
type Watcher struct {
	waiter domain.ReceiptWaiter
	store  domain.OperationStore
	logger *slog.Logger
}

// NewWatcher creates a Watcher over the given receipt port.
func NewWatcher(waiter domain.ReceiptWaiter, store domain.OperationStore, logger *slog.Logger) *Watcher {
	return &Watcher{
		waiter: waiter,
		store:  store,
		logger: logger.With(slog.String("component", "watcher")),
	}
}

// Watch blocks until the record's operation is confirmed or reverted, then
// advances the machine accordingly. There is no terminal timeout: a hash
// without a receipt stays Pending, because the operation remains valid and
// may still confirm. Context cancellation abandons watching only; the
// record is re-attachable later.
func (w *Watcher) Watch(ctx context.Context, m *lifecycle.Machine) error {
	rec := m.Record()

	rcpt, err := w.waiter.WaitForReceipt(ctx, rec.OperationHash)
	if err != nil {
		// Watching was abandoned, not the operation. Leave the record
		// Pending for a later watcher.
		w.logger.WarnContext(ctx, "watcher: abandoned",
			slog.String("record_id", rec.ID),
			slog.String("hash", rec.OperationHash),
			slog.String("error", err.Error()),
		)
		return err
	}

	m.SetReceipt(rcpt)
	if err := w.store.SetReceipt(ctx, rec.ID, rcpt); err != nil {
		w.logger.WarnContext(ctx, "watcher: persist receipt failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	if rcpt.Success {
		if err := m.Apply(lifecycle.EventConfirmed, nil); err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "watcher: operation confirmed",
			slog.String("record_id", rec.ID),
			slog.String("hash", rec.OperationHash),
			slog.Uint64("block", rcpt.BlockNumber),
		)
	} else {
		if err := m.Apply(lifecycle.EventReverted, domain.NewRevertedError(rcpt.RevertReason)); err != nil {
			return err
		}
		w.logger.WarnContext(ctx, "watcher: operation reverted",
			slog.String("record_id", rec.ID),
			slog.String("hash", rec.OperationHash),
			slog.String("reason", rcpt.RevertReason),
		)
	}

	w.persist(ctx, m)
	return nil
}

func (w *Watcher) persist(ctx context.Context, m *lifecycle.Machine) {
	rec := m.Record()
	if err := w.store.UpdateStatus(ctx, rec.ID, rec.Status, rec.Err); err != nil {
		w.logger.WarnContext(ctx, "watcher: persist status failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
