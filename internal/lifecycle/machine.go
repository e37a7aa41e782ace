// Package lifecycle implements the per-record finite-state machine that
// drives an operation from intent to terminal status. Each tracked record
// owns one Machine; discrete events move it forward through the lifecycle
// graph and illegal or backward transitions are rejected.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/omenlabs/omend/internal/domain"
)

// Event is a discrete lifecycle event delivered to a Machine.
type Event string

const (
	EventValidate           Event = "validate"
	EventValidationFailed   Event = "validation_failed"
	EventAllowanceRequired  Event = "allowance_required"
	EventAllowanceConfirmed Event = "allowance_confirmed"
	EventValidated          Event = "validated"
	EventSigned             Event = "signed"
	EventDeclined           Event = "declined"
	EventSubmitFailed       Event = "submit_failed"
	EventConfirmed          Event = "confirmed"
	EventReverted           Event = "reverted"
	EventSyncStarted        Event = "sync_started"
	EventBackendOK          Event = "backend_ok"
	EventBackendFailed      Event = "backend_failed"
)

// transitions is the authoritative map of legal moves. Anything absent is an
// illegal transition.
var transitions = map[domain.OperationStatus]map[Event]domain.OperationStatus{
	domain.StatusIdle: {
		EventValidate: domain.StatusValidating,
	},
	domain.StatusValidating: {
		EventValidationFailed:  domain.StatusFailed,
		EventAllowanceRequired: domain.StatusAwaitingAllowance,
		EventValidated:         domain.StatusAwaitingSignature,
	},
	domain.StatusAwaitingAllowance: {
		EventAllowanceConfirmed: domain.StatusAwaitingSignature,
		EventDeclined:           domain.StatusUserRejected,
		EventSubmitFailed:       domain.StatusFailed,
	},
	domain.StatusAwaitingSignature: {
		EventSigned:       domain.StatusPending,
		EventDeclined:     domain.StatusUserRejected,
		EventSubmitFailed: domain.StatusFailed,
	},
	domain.StatusPending: {
		EventConfirmed: domain.StatusConfirmed,
		EventReverted:  domain.StatusReverted,
	},
	domain.StatusConfirmed: {
		EventSyncStarted: domain.StatusBackendSyncing,
	},
	domain.StatusBackendSyncing: {
		EventBackendOK:     domain.StatusDone,
		EventBackendFailed: domain.StatusBackendSyncFailed,
	},
}

// rank orders statuses along the lifecycle graph so monotonicity can be
// asserted independently of the transition table. Terminal failure states
// rank above every live state they can be reached from.
var rank = map[domain.OperationStatus]int{
	domain.StatusIdle:              0,
	domain.StatusValidating:        1,
	domain.StatusAwaitingAllowance: 2,
	domain.StatusAwaitingSignature: 3,
	domain.StatusPending:           4,
	domain.StatusUserRejected:      5,
	domain.StatusFailed:            5,
	domain.StatusConfirmed:         5,
	domain.StatusReverted:          6,
	domain.StatusBackendSyncing:    6,
	domain.StatusBackendSyncFailed: 7,
	domain.StatusDone:              7,
}

// TransitionFunc observes every applied transition. It receives a snapshot
// of the updated record and runs after the machine lock is released, so an
// observer may read the machine and may block without stalling concurrent
// Record/Status readers.
type TransitionFunc func(rec domain.Record, ev Event)

// Machine is the event-driven state machine for a single operation record.
// It is safe for concurrent use.
type Machine struct {
	mu   sync.Mutex
	rec  domain.Record
	obs  TransitionFunc
	seen []domain.OperationStatus
}

// New creates a Machine for the given record. Records start at StatusIdle
// unless they are being re-attached from persistence with a later status.
func New(rec domain.Record, obs TransitionFunc) *Machine {
	if rec.Status == "" {
		rec.Status = domain.StatusIdle
	}
	return &Machine{
		rec:  rec,
		obs:  obs,
		seen: []domain.OperationStatus{rec.Status},
	}
}

// Record returns a copy of the current record state.
func (m *Machine) Record() domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Status returns the current lifecycle status.
func (m *Machine) Status() domain.OperationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Status
}

// History returns the ordered statuses the record has passed through.
func (m *Machine) History() []domain.OperationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OperationStatus, len(m.seen))
	copy(out, m.seen)
	return out
}

// Apply delivers an event, moving the record to the next status. It returns
// an error if the transition is illegal from the current status or would
// move the record backward in lifecycle order.
func (m *Machine) Apply(ev Event, opErr *domain.OpError) error {
	m.mu.Lock()

	next, ok := transitions[m.rec.Status][ev]
	if !ok {
		cur := m.rec.Status
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: illegal event %q in status %q", ev, cur)
	}
	if rank[next] < rank[m.rec.Status] {
		cur := m.rec.Status
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: event %q would move %q backward to %q", ev, cur, next)
	}

	m.rec.Status = next
	m.rec.UpdatedAt = time.Now().UTC()
	if opErr != nil {
		m.rec.Err = opErr
	}
	m.seen = append(m.seen, next)

	// Observers get a snapshot outside the lock: a slow observer (the bus
	// publish does network I/O) must not hold up concurrent readers.
	snapshot := m.rec
	m.mu.Unlock()

	if m.obs != nil {
		m.obs(snapshot, ev)
	}
	return nil
}

// SetHash records the ledger operation hash. The hash is the idempotency
// anchor: it is set at most once and attempting to set it twice is a
// programming error surfaced as domain.ErrHashAlreadySet.
func (m *Machine) SetHash(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.OperationHash != "" {
		return domain.ErrHashAlreadySet
	}
	m.rec.OperationHash = hash
	return nil
}

// SetReceipt attaches the confirmation receipt.
func (m *Machine) SetReceipt(rcpt domain.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.Receipt = &rcpt
}

// IncBackendAttempts bumps and returns the backend-sync retry counter.
func (m *Machine) IncBackendAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.BackendAttempts++
	return m.rec.BackendAttempts
}

// Acknowledge marks a terminal record as acknowledged by the interface,
// making it eligible for archival and garbage collection.
func (m *Machine) Acknowledge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rec.Status.Terminal() {
		return fmt.Errorf("lifecycle: cannot acknowledge non-terminal status %q", m.rec.Status)
	}
	m.rec.Acknowledged = true
	return nil
}
