package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/lifecycle"
)

// Sequencer runs one record through the full lifecycle and orders dependent
// operations: approve before trade, ledger confirmation before backend sync.
// A later step only starts once its predecessor is durably confirmed; when a
// prior step reverts or is rejected, every dependent step is abandoned and
// the whole chain is surfaced as one failure.
type Sequencer struct {
	validator *Validator
	allowance *AllowancePreparer
	submitter *Submitter
	watcher   *Watcher
	syncer    *Syncer
	store     domain.OperationStore
	slots     domain.SubmissionSlots
	logger    *slog.Logger

	// newMachine lets the orchestrator attach its transition observer to
	// approval sub-operations created inside the sequencer.
	newMachine func(rec domain.Record) *lifecycle.Machine
}

// NewSequencer wires the lifecycle components together.
func NewSequencer(
	validator *Validator,
	allowance *AllowancePreparer,
	submitter *Submitter,
	watcher *Watcher,
	syncer *Syncer,
	store domain.OperationStore,
	slots domain.SubmissionSlots,
	logger *slog.Logger,
) *Sequencer {
	s := &Sequencer{
		validator: validator,
		allowance: allowance,
		submitter: submitter,
		watcher:   watcher,
		syncer:    syncer,
		store:     store,
		slots:     slots,
		logger:    logger.With(slog.String("component", "sequencer")),
	}
	s.newMachine = func(rec domain.Record) *lifecycle.Machine {
		return lifecycle.New(rec, nil)
	}
	return s
}

// Run drives a fresh record from Idle to a terminal status. release frees
// the record's submission slot and is called once the record can no longer
// produce a second outstanding submission.
func (q *Sequencer) Run(ctx context.Context, m *lifecycle.Machine, release func()) {
	defer release()

	rec := m.Record()
	log := q.logger.With(
		slog.String("record_id", rec.ID),
		slog.String("kind", string(rec.Intent.Kind)),
	)

	// 1. Validate.
	if err := m.Apply(lifecycle.EventValidate, nil); err != nil {
		log.Error("sequencer: start validation", slog.String("error", err.Error()))
		return
	}
	q.persist(ctx, m)

	if err := q.validator.Check(ctx, rec.Intent); err != nil {
		q.failValidation(ctx, m, err)
		return
	}

	// 2. Allowance gate for value-transferring buys.
	if rec.Intent.Kind == domain.KindTrade &&
		rec.Intent.Trade != nil &&
		rec.Intent.Trade.Direction == domain.DirectionBuy {

		approval, err := q.allowance.Prepare(ctx, rec.Intent.Requester, rec.Intent.Target, rec.Intent.Trade.Amount)
		if err != nil {
			q.failValidation(ctx, m, err)
			return
		}
		if approval != nil {
			if err := m.Apply(lifecycle.EventAllowanceRequired, nil); err != nil {
				log.Error("sequencer: enter allowance", slog.String("error", err.Error()))
				return
			}
			q.persist(ctx, m)

			if ok := q.runApproval(ctx, m, *approval, log); !ok {
				return
			}

			// Explicit re-read before the dependent step: the approval took
			// time and balances may have moved underneath us.
			if err := q.validator.Check(ctx, rec.Intent); err != nil {
				opErr := classifyValidation(err)
				if applyErr := m.Apply(lifecycle.EventSubmitFailed, opErr); applyErr != nil {
					log.Error("sequencer: revalidation transition", slog.String("error", applyErr.Error()))
					return
				}
				q.persist(ctx, m)
				return
			}

			if err := m.Apply(lifecycle.EventAllowanceConfirmed, nil); err != nil {
				log.Error("sequencer: leave allowance", slog.String("error", err.Error()))
				return
			}
			q.persist(ctx, m)
		}
	}

	if m.Status() == domain.StatusValidating {
		if err := m.Apply(lifecycle.EventValidated, nil); err != nil {
			log.Error("sequencer: finish validation", slog.String("error", err.Error()))
			return
		}
		q.persist(ctx, m)
	}

	// 3. Submit, watch, sync.
	if err := q.submitter.Submit(ctx, m); err != nil {
		log.Error("sequencer: submit", slog.String("error", err.Error()))
		return
	}
	if m.Status() != domain.StatusPending {
		return
	}

	if err := q.watcher.Watch(ctx, m); err != nil {
		// Watching abandoned; the record stays Pending and is resumable.
		return
	}
	if m.Status() != domain.StatusConfirmed {
		return
	}

	if err := q.syncer.Sync(ctx, m); err != nil {
		log.Error("sequencer: sync", slog.String("error", err.Error()))
	}
}

// runApproval executes the allowance approval as its own sub-operation and
// reports whether the dependent trade may proceed. On any failure the
// parent is moved to its matching terminal state carrying the approval's
// error, so the chain surfaces as one failure.
func (q *Sequencer) runApproval(ctx context.Context, parent *lifecycle.Machine, intent domain.Intent, log *slog.Logger) bool {
	release, err := q.slots.Acquire(ctx, intent.Slot())
	if err != nil {
		q.abortAllowance(ctx, parent, lifecycle.EventSubmitFailed, domain.NewSubmissionError(err))
		return false
	}
	defer release()

	now := time.Now().UTC()
	rec := domain.Record{
		ID:        uuid.New().String(),
		Intent:    intent,
		Status:    domain.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	child := q.newMachine(rec)
	if err := q.store.Create(ctx, rec); err != nil {
		q.abortAllowance(ctx, parent, lifecycle.EventSubmitFailed, domain.NewSubmissionError(err))
		return false
	}

	log.Info("sequencer: approval required",
		slog.String("approval_id", rec.ID),
		slog.String("amount", intent.Approve.Amount.String()),
	)

	// The approval runs the full validate → sign → pending → confirmed
	// sub-sequence before the dependent trade begins its own signature.
	_ = child.Apply(lifecycle.EventValidate, nil)
	_ = child.Apply(lifecycle.EventValidated, nil)
	q.persistChild(ctx, child)

	if err := q.submitter.Submit(ctx, child); err != nil {
		q.abortAllowance(ctx, parent, lifecycle.EventSubmitFailed, domain.NewSubmissionError(err))
		return false
	}

	switch child.Status() {
	case domain.StatusUserRejected:
		q.abortAllowance(ctx, parent, lifecycle.EventDeclined, child.Record().Err)
		return false
	case domain.StatusFailed:
		q.abortAllowance(ctx, parent, lifecycle.EventSubmitFailed, child.Record().Err)
		return false
	}

	if err := q.watcher.Watch(ctx, child); err != nil {
		q.abortAllowance(ctx, parent, lifecycle.EventSubmitFailed, domain.NewSubmissionError(err))
		return false
	}
	if child.Status() != domain.StatusConfirmed {
		q.abortAllowance(ctx, parent, lifecycle.EventSubmitFailed, child.Record().Err)
		return false
	}

	// Approvals have no backend projection; confirmation is their terminal
	// success for sequencing purposes.
	return true
}

func (q *Sequencer) abortAllowance(ctx context.Context, parent *lifecycle.Machine, ev lifecycle.Event, opErr *domain.OpError) {
	if opErr == nil {
		opErr = domain.NewSubmissionError(errors.New("allowance approval failed"))
	}
	if err := q.parentApply(parent, ev, opErr); err != nil {
		q.logger.Error("sequencer: abort allowance", slog.String("error", err.Error()))
		return
	}
	q.persist(ctx, parent)
}

func (q *Sequencer) parentApply(parent *lifecycle.Machine, ev lifecycle.Event, opErr *domain.OpError) error {
	return parent.Apply(ev, opErr)
}

func (q *Sequencer) failValidation(ctx context.Context, m *lifecycle.Machine, err error) {
	opErr := classifyValidation(err)
	if applyErr := m.Apply(lifecycle.EventValidationFailed, opErr); applyErr != nil {
		q.logger.Error("sequencer: validation transition", slog.String("error", applyErr.Error()))
		return
	}
	q.persist(ctx, m)
	q.logger.Info("sequencer: validation rejected",
		slog.String("record_id", m.Record().ID),
		slog.String("reason", opErr.Message),
	)
}

// classifyValidation keeps already-classified errors and folds ledger read
// failures into the validation bucket so no raw provider error crosses the
// boundary.
func classifyValidation(err error) *domain.OpError {
	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		return opErr
	}
	return domain.NewValidationError("%s", err.Error())
}

func (q *Sequencer) persist(ctx context.Context, m *lifecycle.Machine) {
	rec := m.Record()
	if err := q.store.UpdateStatus(ctx, rec.ID, rec.Status, rec.Err); err != nil {
		q.logger.WarnContext(ctx, "sequencer: persist status failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (q *Sequencer) persistChild(ctx context.Context, m *lifecycle.Machine) {
	q.persist(ctx, m)
}
