// Package domain defines the core types of the transaction lifecycle:
// operation intents, tracked records, market snapshots, classified errors,
// and the port interfaces implemented by the ledger, backend, store, and
// cache layers.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OperationKind identifies what a user intent asks the ledger to do.
type OperationKind string

const (
	KindTrade         OperationKind = "trade"
	KindResolveMarket OperationKind = "resolve_market"
	KindClaimWinnings OperationKind = "claim_winnings"
	KindClaimFaucet   OperationKind = "claim_faucet"
	KindCreateMarket  OperationKind = "create_market"

	// KindApprove is the internal allowance-approval operation issued ahead
	// of a trade whose current allowance is insufficient.
	KindApprove OperationKind = "approve"
)

// Outcome is one of the two sides of a binary market.
type Outcome string

const (
	OutcomeA Outcome = "option_a"
	OutcomeB Outcome = "option_b"
)

// Valid reports whether o is a recognised outcome value.
func (o Outcome) Valid() bool {
	return o == OutcomeA || o == OutcomeB
}

// TradeDirection distinguishes buys from sells.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// TradeParams is the payload for a Trade intent. Amount is the collateral
// value in token base units for a buy; Shares is the share quantity for a
// sell.
type TradeParams struct {
	Side      Outcome
	Direction TradeDirection
	Amount    *big.Int
	Shares    *big.Int
}

// ResolveParams is the payload for a ResolveMarket intent.
type ResolveParams struct {
	Outcome Outcome
}

// ApproveParams is the payload for the internal allowance approval.
type ApproveParams struct {
	Spender common.Address
	Amount  *big.Int
}

// FaucetParams is the payload for a ClaimFaucet intent. Amount is filled in
// at validation time from the faucet's configured claim amount so the
// backend sync can record the grant without another ledger read.
type FaucetParams struct {
	Amount *big.Int
}

// CreateParams is the payload for a CreateMarket intent.
type CreateParams struct {
	Question string
	EndTime  time.Time
}

// Intent is an immutable description of what the user wants to do. It is
// created when the user triggers an action and consumed exactly once.
// Exactly one of the params pointers is set, matching Kind.
type Intent struct {
	Kind      OperationKind
	Target    common.Address
	Requester common.Address

	Trade   *TradeParams
	Resolve *ResolveParams
	Approve *ApproveParams
	Faucet  *FaucetParams
	Create  *CreateParams
}

// SlotKey identifies the advisory "one outstanding submission" slot for an
// intent. At most one operation per key may be awaiting signature or pending
// at any time.
type SlotKey struct {
	Requester string
	Target    string
	Kind      OperationKind
}

// Slot returns the submission slot key for the intent.
func (in Intent) Slot() SlotKey {
	return SlotKey{
		Requester: in.Requester.Hex(),
		Target:    in.Target.Hex(),
		Kind:      in.Kind,
	}
}

// String renders the key in the form used for lock naming.
func (k SlotKey) String() string {
	return k.Requester + ":" + k.Target + ":" + string(k.Kind)
}
