package domain

import "time"

// OperationStatus is the externally observable lifecycle state of a tracked
// operation. Statuses only ever advance forward through the lifecycle graph;
// a user retry always starts a new record.
type OperationStatus string

const (
	StatusIdle              OperationStatus = "idle"
	StatusValidating        OperationStatus = "validating"
	StatusAwaitingAllowance OperationStatus = "awaiting_allowance"
	StatusAwaitingSignature OperationStatus = "awaiting_signature"
	StatusPending           OperationStatus = "pending"
	StatusConfirmed         OperationStatus = "confirmed"
	StatusReverted          OperationStatus = "reverted"
	StatusBackendSyncing    OperationStatus = "backend_syncing"
	StatusBackendSyncFailed OperationStatus = "backend_sync_failed"
	StatusDone              OperationStatus = "done"
	StatusUserRejected      OperationStatus = "user_rejected"
	StatusFailed            OperationStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusReverted, StatusUserRejected, StatusFailed, StatusBackendSyncFailed:
		return true
	}
	return false
}

// Receipt is the ledger's acknowledgment of a submitted operation.
type Receipt struct {
	Success      bool
	BlockNumber  uint64
	RevertReason string
}

// Record tracks one in-flight operation from intent to terminal status.
// ID is a client-generated correlation id, distinct from the ledger hash
// which is unknown until submission. OperationHash is set at most once and
// never mutated afterward.
type Record struct {
	ID              string
	Intent          Intent
	Status          OperationStatus
	OperationHash   string
	Receipt         *Receipt
	BackendAttempts int
	Err             *OpError
	Acknowledged    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
