package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenlabs/omend/internal/domain"
)

// AllowancePreparer ensures the ledger-side spending allowance covers a
// value-transferring trade, producing a separate approval intent when it
// does not. Approvals are scoped to exactly the requested amount rather
// than an unlimited value; future trades may need a fresh approval, which
// trades a little latency for reduced standing risk.
type AllowancePreparer struct {
	ledger domain.LedgerReader
	token  common.Address
}

// NewAllowancePreparer creates a preparer reading allowances on the given
// collateral token.
func NewAllowancePreparer(ledger domain.LedgerReader, token common.Address) *AllowancePreparer {
	return &AllowancePreparer{ledger: ledger, token: token}
}

// Prepare reads the requester's current allowance toward the market
// contract. It returns nil when the allowance already covers amount, and
// otherwise the exact-amount approval intent that must confirm before the
// dependent trade may begin.
func (a *AllowancePreparer) Prepare(ctx context.Context, requester, market common.Address, amount *big.Int) (*domain.Intent, error) {
	current, err := a.ledger.Allowance(ctx, requester, market)
	if err != nil {
		return nil, fmt.Errorf("allowance: read: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil, nil
	}

	return &domain.Intent{
		Kind:      domain.KindApprove,
		Target:    a.token,
		Requester: requester,
		Approve: &domain.ApproveParams{
			Spender: market,
			Amount:  new(big.Int).Set(amount),
		},
	}, nil
}
