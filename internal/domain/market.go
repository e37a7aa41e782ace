package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketSnapshot is the ledger-reported state of a market at read time. It
// is externally owned, read-only within this layer, and may be stale between
// reads; the ledger re-validates authoritatively at submission.
type MarketSnapshot struct {
	Market   common.Address
	Resolved bool
	Outcome  Outcome // meaningful only when Resolved
	EndTime  time.Time
	Owner    common.Address
	PoolA    *big.Int
	PoolB    *big.Int
}

// FaucetState is the ledger-reported faucet view for one holder.
type FaucetState struct {
	LastClaimAt time.Time
	Reserve     *big.Int
	ClaimAmount *big.Int
}
