// Package orchestrator coordinates the lifecycle of ledger operations: it
// validates intents, prepares allowances, submits signed calls, watches for
// confirmation, and projects the outcome into the off-chain backend.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/lifecycle"
)

// StatusChannel is the bus channel carrying record status transitions.
const StatusChannel = "ch:ops"

// Orchestrator is the public entry point for submitting operations and
// querying their lifecycle state. It holds an in-memory registry of live
// machines backed by the durable operation store.
type Orchestrator struct {
	sequencer *Sequencer
	watcher   *Watcher
	syncer    *Syncer
	store     domain.OperationStore
	slots     domain.SubmissionSlots
	bus       domain.SignalBus
	logger    *slog.Logger

	mu       sync.RWMutex
	machines map[string]*lifecycle.Machine

	baseCtx context.Context
}

// New builds an Orchestrator. bus may be nil when no streaming interface is
// attached.
func New(
	sequencer *Sequencer,
	watcher *Watcher,
	syncer *Syncer,
	store domain.OperationStore,
	slots domain.SubmissionSlots,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		sequencer: sequencer,
		watcher:   watcher,
		syncer:    syncer,
		store:     store,
		slots:     slots,
		bus:       bus,
		logger:    logger.With(slog.String("component", "orchestrator")),
		machines:  make(map[string]*lifecycle.Machine),
	}
	sequencer.newMachine = func(rec domain.Record) *lifecycle.Machine {
		return o.track(rec)
	}
	return o
}

// Start records the base context used for background lifecycle goroutines
// and re-attaches persisted in-flight records. Operation goroutines outlive
// the request that triggered them; they stop when this context ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.baseCtx = ctx
	return o.resume(ctx)
}

// SubmitTrade starts a buy or sell against a market.
func (o *Orchestrator) SubmitTrade(ctx context.Context, requester, market common.Address, p domain.TradeParams) (domain.Record, error) {
	return o.begin(ctx, domain.Intent{
		Kind:      domain.KindTrade,
		Target:    market,
		Requester: requester,
		Trade:     &p,
	})
}

// SubmitResolve starts a market resolution by its owner.
func (o *Orchestrator) SubmitResolve(ctx context.Context, requester, market common.Address, outcome domain.Outcome) (domain.Record, error) {
	return o.begin(ctx, domain.Intent{
		Kind:      domain.KindResolveMarket,
		Target:    market,
		Requester: requester,
		Resolve:   &domain.ResolveParams{Outcome: outcome},
	})
}

// SubmitClaim starts a winnings claim against a resolved market.
func (o *Orchestrator) SubmitClaim(ctx context.Context, requester, market common.Address) (domain.Record, error) {
	return o.begin(ctx, domain.Intent{
		Kind:      domain.KindClaimWinnings,
		Target:    market,
		Requester: requester,
	})
}

// SubmitFaucetClaim starts a faucet grant claim.
func (o *Orchestrator) SubmitFaucetClaim(ctx context.Context, requester, faucet common.Address) (domain.Record, error) {
	return o.begin(ctx, domain.Intent{
		Kind:      domain.KindClaimFaucet,
		Target:    faucet,
		Requester: requester,
		Faucet:    &domain.FaucetParams{},
	})
}

// SubmitCreateMarket starts creation of a new market through the factory.
func (o *Orchestrator) SubmitCreateMarket(ctx context.Context, requester, factory common.Address, question string, endTime time.Time) (domain.Record, error) {
	return o.begin(ctx, domain.Intent{
		Kind:      domain.KindCreateMarket,
		Target:    factory,
		Requester: requester,
		Create:    &domain.CreateParams{Question: question, EndTime: endTime},
	})
}

// begin acquires the submission slot, persists a fresh record, and launches
// the lifecycle sequence in the background. A held slot is reported as a
// validation failure without creating a record: the caller already has an
// identical operation outstanding.
func (o *Orchestrator) begin(ctx context.Context, in domain.Intent) (domain.Record, error) {
	release, err := o.slots.Acquire(ctx, in.Slot())
	if err != nil {
		if errors.Is(err, domain.ErrSlotHeld) {
			return domain.Record{}, domain.NewValidationError("an identical operation is already in flight")
		}
		return domain.Record{}, fmt.Errorf("orchestrator: acquire slot: %w", err)
	}

	now := time.Now().UTC()
	rec := domain.Record{
		ID:        uuid.New().String(),
		Intent:    in,
		Status:    domain.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Create(ctx, rec); err != nil {
		release()
		return domain.Record{}, fmt.Errorf("orchestrator: create record: %w", err)
	}

	m := o.track(rec)
	o.logger.Info("orchestrator: operation accepted",
		slog.String("record_id", rec.ID),
		slog.String("kind", string(in.Kind)),
		slog.String("requester", in.Requester.Hex()),
	)

	go o.sequencer.Run(o.runCtx(), m, release)
	return rec, nil
}

// Get returns the live machine's record if tracked, falling back to the
// durable store for archived or restarted state.
func (o *Orchestrator) Get(ctx context.Context, id string) (domain.Record, error) {
	o.mu.RLock()
	m, ok := o.machines[id]
	o.mu.RUnlock()
	if ok {
		return m.Record(), nil
	}
	return o.store.GetByID(ctx, id)
}

// Project returns the interface-facing projection for a record.
func (o *Orchestrator) Project(ctx context.Context, id string) (lifecycle.Projection, error) {
	rec, err := o.Get(ctx, id)
	if err != nil {
		return lifecycle.Projection{}, err
	}
	return lifecycle.Project(rec), nil
}

// List returns the records of all currently tracked machines.
func (o *Orchestrator) List(ctx context.Context) ([]domain.Record, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.Record, 0, len(o.machines))
	for _, m := range o.machines {
		out = append(out, m.Record())
	}
	return out, nil
}

// Ack marks a terminal record acknowledged and drops it from the live
// registry. The durable row survives until the archiver collects it.
func (o *Orchestrator) Ack(ctx context.Context, id string) error {
	o.mu.RLock()
	m, ok := o.machines[id]
	o.mu.RUnlock()

	if ok {
		if err := m.Acknowledge(); err != nil {
			return err
		}
	} else {
		rec, err := o.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !rec.Status.Terminal() {
			return fmt.Errorf("orchestrator: cannot acknowledge non-terminal status %q", rec.Status)
		}
	}

	if err := o.store.Acknowledge(ctx, id); err != nil {
		return fmt.Errorf("orchestrator: acknowledge: %w", err)
	}

	o.mu.Lock()
	delete(o.machines, id)
	o.mu.Unlock()
	return nil
}

// resume re-attaches background stages to persisted in-flight records.
// Pending records get their receipt watcher back, holding a re-acquired
// submission slot while they watch; confirmed and half-synced records get
// the backend syncer back. Records interrupted before a hash existed are
// failed so the holder can retry instead of polling a stranded status.
// Submission never re-runs: the hash on the record is the proof it already
// went out.
func (o *Orchestrator) resume(ctx context.Context) error {
	// Pre-hash statuses cannot be re-entered mid-sequence. No submission
	// happened, so failing them loses nothing irreversible. The one
	// exception is a record whose hash was persisted but whose status write
	// was lost: that submission is live and gets watched like a pending one.
	for _, st := range []domain.OperationStatus{
		domain.StatusIdle,
		domain.StatusValidating,
		domain.StatusAwaitingAllowance,
		domain.StatusAwaitingSignature,
	} {
		recs, err := o.store.ListByStatus(ctx, st, 0)
		if err != nil {
			return fmt.Errorf("orchestrator: list %s: %w", st, err)
		}
		for _, rec := range recs {
			if rec.OperationHash != "" {
				o.resumePending(ctx, rec)
				continue
			}
			opErr := domain.NewSubmissionError(errors.New("interrupted by restart before submission"))
			if err := o.store.UpdateStatus(ctx, rec.ID, domain.StatusFailed, opErr); err != nil {
				return fmt.Errorf("orchestrator: fail interrupted %s: %w", rec.ID, err)
			}
			o.logger.Warn("orchestrator: failed interrupted record",
				slog.String("record_id", rec.ID),
				slog.String("was", string(st)),
			)
		}
	}

	pending, err := o.store.ListByStatus(ctx, domain.StatusPending, 0)
	if err != nil {
		return fmt.Errorf("orchestrator: list pending: %w", err)
	}
	for _, rec := range pending {
		o.resumePending(ctx, rec)
	}

	for _, st := range []domain.OperationStatus{domain.StatusConfirmed, domain.StatusBackendSyncing} {
		recs, err := o.store.ListByStatus(ctx, st, 0)
		if err != nil {
			return fmt.Errorf("orchestrator: list %s: %w", st, err)
		}
		for _, rec := range recs {
			m := o.track(rec)
			o.logger.Info("orchestrator: resuming sync", slog.String("record_id", rec.ID))
			go o.resumeSync(o.runCtx(), m)
		}
	}
	return nil
}

// resumePending re-arms the receipt watcher for a record with a live
// submission. The submission slot is re-acquired first: the prior process
// released it (or its TTL expired), and without it a duplicate intent for
// the same tuple would be accepted while this one is still outstanding.
func (o *Orchestrator) resumePending(ctx context.Context, rec domain.Record) {
	release := o.reacquireSlot(ctx, rec)
	m := o.track(rec)

	if m.Status() == domain.StatusAwaitingSignature {
		// Hash persisted, pending-status write lost. Replay the missing
		// transition before watching.
		if err := m.Apply(lifecycle.EventSigned, nil); err != nil {
			o.logger.Error("orchestrator: replay signed transition",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			release()
			return
		}
		if err := o.store.UpdateStatus(ctx, rec.ID, domain.StatusPending, nil); err != nil {
			o.logger.Warn("orchestrator: persist replayed status",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.logger.Info("orchestrator: resuming watch",
		slog.String("record_id", rec.ID),
		slog.String("hash", rec.OperationHash),
	)
	go o.resumeWatch(o.runCtx(), m, release)
}

// reacquireSlot takes the record's submission slot back for the duration of
// a resumed watch. A slot already held is tolerated: the guard is advisory
// and the record is watched either way.
func (o *Orchestrator) reacquireSlot(ctx context.Context, rec domain.Record) func() {
	release, err := o.slots.Acquire(ctx, rec.Intent.Slot())
	if err != nil {
		if !errors.Is(err, domain.ErrSlotHeld) {
			o.logger.Warn("orchestrator: reacquire slot",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		return func() {}
	}
	return release
}

func (o *Orchestrator) resumeWatch(ctx context.Context, m *lifecycle.Machine, release func()) {
	defer release()

	if err := o.watcher.Watch(ctx, m); err != nil {
		return
	}
	if m.Status() != domain.StatusConfirmed {
		return
	}
	if err := o.syncer.Sync(ctx, m); err != nil {
		o.logger.Error("orchestrator: resumed sync", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) resumeSync(ctx context.Context, m *lifecycle.Machine) {
	if err := o.syncer.Sync(ctx, m); err != nil {
		o.logger.Error("orchestrator: resumed sync", slog.String("error", err.Error()))
	}
}

// track registers a machine for the record with the bus-publishing observer
// attached.
func (o *Orchestrator) track(rec domain.Record) *lifecycle.Machine {
	m := lifecycle.New(rec, o.publish)
	o.mu.Lock()
	o.machines[rec.ID] = m
	o.mu.Unlock()
	return m
}

// publish streams every transition to the signal bus as a projection. Bus
// errors are logged and dropped; the lifecycle never blocks on observers.
func (o *Orchestrator) publish(rec domain.Record, ev lifecycle.Event) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(lifecycle.Project(rec))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.bus.Publish(ctx, StatusChannel, payload); err != nil {
		o.logger.Warn("orchestrator: publish transition",
			slog.String("record_id", rec.ID),
			slog.String("event", string(ev)),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) runCtx() context.Context {
	if o.baseCtx != nil {
		return o.baseCtx
	}
	return context.Background()
}
