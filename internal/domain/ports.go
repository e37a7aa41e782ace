package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerCall is a fully-assembled ledger call ready for signing: target
// address, ABI-encoded calldata, and optional attached value.
type LedgerCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// LedgerReader provides the read-side ports the validator and allowance
// preparer consult. Reads are side-effect free and safe to issue
// concurrently; staleness is tolerated and re-validated on-chain.
type LedgerReader interface {
	MarketSnapshot(ctx context.Context, market common.Address) (MarketSnapshot, error)
	Balance(ctx context.Context, holder common.Address) (*big.Int, error)
	Shares(ctx context.Context, market, holder common.Address, side Outcome) (*big.Int, error)
	Payout(ctx context.Context, market, holder common.Address) (*big.Int, error)
	HasClaimed(ctx context.Context, market, holder common.Address) (bool, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	FaucetState(ctx context.Context, holder common.Address) (FaucetState, error)
}

// OperationSubmitter hands a call to the signing provider and returns the
// operation hash once the holder approves signing. Implementations surface
// ErrUserDeclined for an explicit holder rejection, distinguishable from
// other submission failures.
type OperationSubmitter interface {
	Submit(ctx context.Context, call LedgerCall) (string, error)
}

// ReceiptWaiter observes the ledger for the fate of a submitted operation.
// It performs no writes and is safe to run multiple times concurrently
// against the same hash. It blocks until a receipt is available or the
// context ends; a missing receipt is never reported as failure.
type ReceiptWaiter interface {
	WaitForReceipt(ctx context.Context, hash string) (Receipt, error)
}

// TradeRow is the off-chain projection of a confirmed trade fill.
type TradeRow struct {
	MarketID  string
	Wallet    string
	Side      Outcome
	Direction TradeDirection
	Amount    *big.Int
	Shares    *big.Int
	TxHash    string
}

// MarketRow is the off-chain projection of a newly created market.
type MarketRow struct {
	MarketID string
	Creator  string
	Question string
	EndTime  time.Time
	TxHash   string
}

// Backend is the off-chain system of record. All writes are idempotent when
// the same confirmed hash/market id is submitted twice, so retries are safe.
type Backend interface {
	MarkResolved(ctx context.Context, marketID string, outcome Outcome, txHash string) error
	RecordTrade(ctx context.Context, row TradeRow) error
	MarkClaimed(ctx context.Context, marketID, wallet, txHash string) error
	RecordFaucetGrant(ctx context.Context, wallet string, amount *big.Int, txHash string) error
	CreateMarket(ctx context.Context, row MarketRow) error
}

// OperationStore persists operation records durably so watchers can resume
// after restart and reconciliation can replay unsynced confirmed operations.
type OperationStore interface {
	Create(ctx context.Context, rec Record) error
	GetByID(ctx context.Context, id string) (Record, error)
	// SetHash records the ledger hash for the given record. It fails with
	// ErrHashAlreadySet if a hash was previously recorded.
	SetHash(ctx context.Context, id, hash string) error
	SetReceipt(ctx context.Context, id string, rcpt Receipt) error
	UpdateStatus(ctx context.Context, id string, status OperationStatus, opErr *OpError) error
	IncBackendAttempts(ctx context.Context, id string) (int, error)
	Acknowledge(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status OperationStatus, limit int) ([]Record, error)
	ListAcknowledgedBefore(ctx context.Context, before time.Time) ([]Record, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// SubmissionSlots is the advisory lock guarding the one-outstanding-
// submission invariant per (requester, target, kind). Acquire returns
// ErrSlotHeld when the slot is taken; the release function is safe to call
// more than once.
type SubmissionSlots interface {
	Acquire(ctx context.Context, key SlotKey) (func(), error)
}

// SignalBus is a lightweight publish/subscribe transport used to stream
// record status transitions to the interface layer.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads a named object to blob storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte) error
}
