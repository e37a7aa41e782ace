package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/ledger"
	"github.com/omenlabs/omend/internal/lifecycle"
)

// Submitter hands a fully-assembled call to the signing provider and records
// the resulting operation hash. Each call produces at most one hash; no
// resubmission logic lives here.
type Submitter struct {
	provider domain.OperationSubmitter
	store    domain.OperationStore
	logger   *slog.Logger
}

// NewSubmitter creates a Submitter over the given signing provider.
func NewSubmitter(provider domain.OperationSubmitter, store domain.OperationStore, logger *slog.Logger) *Submitter {
	return &Submitter{
		provider: provider,
		store:    store,
		logger:   logger.With(slog.String("component", "submitter")),
	}
}

// Submit builds the call for the record's intent, requests a signature, and
// moves the machine to Pending on success. A holder decline becomes
// UserRejected; any failure before a hash exists becomes Failed with a
// submission error, distinguishable from a decline.
func (s *Submitter) Submit(ctx context.Context, m *lifecycle.Machine) error {
	rec := m.Record()

	call, err := ledger.BuildCall(rec.Intent)
	if err != nil {
		opErr := domain.NewSubmissionError(err)
		if applyErr := m.Apply(lifecycle.EventSubmitFailed, opErr); applyErr != nil {
			return applyErr
		}
		s.persist(ctx, m)
		return nil
	}

	hash, err := s.provider.Submit(ctx, call)
	if err != nil {
		var ev lifecycle.Event
		var opErr *domain.OpError
		if errors.Is(err, domain.ErrUserDeclined) {
			ev, opErr = lifecycle.EventDeclined, domain.NewUserDeclinedError(err)
		} else {
			ev, opErr = lifecycle.EventSubmitFailed, domain.NewSubmissionError(err)
		}
		s.logger.WarnContext(ctx, "submitter: submission failed",
			slog.String("record_id", rec.ID),
			slog.String("kind", string(rec.Intent.Kind)),
			slog.String("error", err.Error()),
		)
		if applyErr := m.Apply(ev, opErr); applyErr != nil {
			return applyErr
		}
		s.persist(ctx, m)
		return nil
	}

	// The hash is the idempotency anchor: record it exactly once, in memory
	// and durably, before advancing.
	if err := m.SetHash(hash); err != nil {
		return err
	}
	if err := s.store.SetHash(ctx, rec.ID, hash); err != nil {
		s.logger.ErrorContext(ctx, "submitter: persist hash failed",
			slog.String("record_id", rec.ID),
			slog.String("hash", hash),
			slog.String("error", err.Error()),
		)
	}

	if err := m.Apply(lifecycle.EventSigned, nil); err != nil {
		return err
	}
	s.persist(ctx, m)

	s.logger.InfoContext(ctx, "submitter: operation pending",
		slog.String("record_id", rec.ID),
		slog.String("hash", hash),
	)
	return nil
}

func (s *Submitter) persist(ctx context.Context, m *lifecycle.Machine) {
	rec := m.Record()
	if err := s.store.UpdateStatus(ctx, rec.ID, rec.Status, rec.Err); err != nil {
		s.logger.WarnContext(ctx, "submitter: persist status failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
