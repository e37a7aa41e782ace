package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omenlabs/omend/internal/domain"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	return New(domain.Record{ID: "rec-1", Intent: domain.Intent{Kind: domain.KindTrade}}, nil)
}

func TestMachineHappyPath(t *testing.T) {
	m := newTestMachine(t)

	steps := []struct {
		ev   Event
		want domain.OperationStatus
	}{
		{EventValidate, domain.StatusValidating},
		{EventValidated, domain.StatusAwaitingSignature},
		{EventSigned, domain.StatusPending},
		{EventConfirmed, domain.StatusConfirmed},
		{EventSyncStarted, domain.StatusBackendSyncing},
		{EventBackendOK, domain.StatusDone},
	}
	for _, step := range steps {
		require.NoError(t, m.Apply(step.ev, nil))
		require.Equal(t, step.want, m.Status())
	}
	require.True(t, m.Status().Terminal())
}

func TestMachineAllowancePath(t *testing.T) {
	m := newTestMachine(t)

	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventAllowanceRequired, nil))
	require.Equal(t, domain.StatusAwaitingAllowance, m.Status())
	require.NoError(t, m.Apply(EventAllowanceConfirmed, nil))
	require.Equal(t, domain.StatusAwaitingSignature, m.Status())
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	m := newTestMachine(t)

	// Cannot confirm before a submission exists.
	err := m.Apply(EventConfirmed, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "illegal event")
	require.Equal(t, domain.StatusIdle, m.Status())
}

func TestMachineNeverMovesBackward(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventValidated, nil))
	require.NoError(t, m.Apply(EventSigned, nil))

	// Every event that would re-enter an earlier stage must fail.
	for _, ev := range []Event{EventValidate, EventValidated, EventAllowanceRequired, EventSigned} {
		require.Error(t, m.Apply(ev, nil), "event %s should be rejected from Pending", ev)
	}
	require.Equal(t, domain.StatusPending, m.Status())

	// And the observed history is monotonically non-decreasing in rank.
	hist := m.History()
	for i := 1; i < len(hist); i++ {
		require.GreaterOrEqual(t, rank[hist[i]], rank[hist[i-1]])
	}
}

func TestMachineTerminalStatesAdmitNothing(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventValidationFailed, domain.NewValidationError("no balance")))
	require.Equal(t, domain.StatusFailed, m.Status())

	for _, ev := range []Event{EventValidate, EventValidated, EventSigned, EventConfirmed, EventBackendOK} {
		require.Error(t, m.Apply(ev, nil))
	}
}

func TestMachineHashSetOnce(t *testing.T) {
	m := newTestMachine(t)

	require.NoError(t, m.SetHash("0xabc"))
	err := m.SetHash("0xdef")
	require.ErrorIs(t, err, domain.ErrHashAlreadySet)
	require.Equal(t, "0xabc", m.Record().OperationHash)
}

func TestMachineErrorAttachedOnTransition(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventValidated, nil))
	require.NoError(t, m.Apply(EventDeclined, domain.NewUserDeclinedError(domain.ErrUserDeclined)))

	rec := m.Record()
	require.Equal(t, domain.StatusUserRejected, rec.Status)
	require.NotNil(t, rec.Err)
	require.Equal(t, domain.CodeUserDeclined, rec.Err.Code)
}

func TestMachineAcknowledgeOnlyTerminal(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.Apply(EventValidate, nil))
	require.Error(t, m.Acknowledge())

	require.NoError(t, m.Apply(EventValidationFailed, domain.NewValidationError("bad")))
	require.NoError(t, m.Acknowledge())
	require.True(t, m.Record().Acknowledged)
}

func TestMachineObserverSeesEveryTransition(t *testing.T) {
	var events []Event
	m := New(domain.Record{ID: "rec-2"}, func(rec domain.Record, ev Event) {
		events = append(events, ev)
	})

	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventValidated, nil))
	require.NoError(t, m.Apply(EventSigned, nil))
	require.Equal(t, []Event{EventValidate, EventValidated, EventSigned}, events)
}

func TestMachineObserverMayReadMachine(t *testing.T) {
	// Observers run outside the machine lock, so one that reads the machine
	// back must not deadlock and must see the post-transition state.
	var m *Machine
	var observed []domain.OperationStatus
	m = New(domain.Record{ID: "rec-3"}, func(rec domain.Record, ev Event) {
		observed = append(observed, m.Status())
	})

	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventValidated, nil))
	require.Equal(t, []domain.OperationStatus{
		domain.StatusValidating,
		domain.StatusAwaitingSignature,
	}, observed)
}

func TestProjectionCollapsesRecord(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.Apply(EventValidate, nil))
	require.NoError(t, m.Apply(EventValidated, nil))
	require.NoError(t, m.SetHash("0xabc"))
	require.NoError(t, m.Apply(EventSigned, nil))
	require.NoError(t, m.Apply(EventConfirmed, nil))
	require.NoError(t, m.Apply(EventSyncStarted, nil))
	require.NoError(t, m.Apply(EventBackendFailed, domain.NewBackendSyncError("0xabc", domain.ErrNotFound)))

	p := m.Projection()
	require.Equal(t, domain.StatusBackendSyncFailed, p.Status)
	require.Equal(t, "0xabc", p.Hash)
	require.Equal(t, domain.CodeBackendSync, p.ErrorCode)
	require.NotEmpty(t, p.UserMessage)
	require.True(t, p.Terminal)
}
