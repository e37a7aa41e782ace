// Package orchestrator coordinates the transaction lifecycle: precondition
// validation, allowance preparation, submission, confirmation watching,
// backend synchronization, and the composite sequencing that ties them
// together per tracked operation record.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/omenlabs/omend/internal/domain"
)

// Validator checks an operation intent against current ledger state before
// any signature is requested. The checks are advisory (the ledger enforces
// the same rules authoritatively) but avoid wasting a signature round-trip
// and give specific feedback immediately. It performs no side effect, with
// one exception: a faucet intent gets its grant amount filled in from the
// faucet's configured claim amount.
type Validator struct {
	ledger         domain.LedgerReader
	faucetCooldown time.Duration
	now            func() time.Time
}

// NewValidator creates a Validator reading through the given ledger port.
func NewValidator(ledger domain.LedgerReader, faucetCooldown time.Duration) *Validator {
	return &Validator{
		ledger:         ledger,
		faucetCooldown: faucetCooldown,
		now:            time.Now,
	}
}

// Check validates the intent, returning a classified *domain.OpError on a
// failed precondition and a plain error on a ledger read failure.
func (v *Validator) Check(ctx context.Context, in domain.Intent) error {
	switch in.Kind {
	case domain.KindTrade:
		return v.checkTrade(ctx, in)
	case domain.KindResolveMarket:
		return v.checkResolve(ctx, in)
	case domain.KindClaimWinnings:
		return v.checkClaim(ctx, in)
	case domain.KindClaimFaucet:
		return v.checkFaucet(ctx, in)
	case domain.KindCreateMarket:
		return v.checkCreate(in)
	case domain.KindApprove:
		if in.Approve == nil || in.Approve.Amount == nil || in.Approve.Amount.Sign() <= 0 {
			return domain.NewValidationError("approval amount must be positive")
		}
		return nil
	}
	return domain.NewValidationError("unsupported operation kind %q", in.Kind)
}

func (v *Validator) checkTrade(ctx context.Context, in domain.Intent) error {
	p := in.Trade
	if p == nil {
		return domain.NewValidationError("trade intent missing parameters")
	}
	if !p.Side.Valid() {
		return domain.NewValidationError("unknown outcome side %q", p.Side)
	}

	snap, err := v.ledger.MarketSnapshot(ctx, in.Target)
	if err != nil {
		return fmt.Errorf("validator: market snapshot: %w", err)
	}
	if snap.Resolved {
		return domain.NewValidationError("market %s is already resolved", in.Target.Hex())
	}

	switch p.Direction {
	case domain.DirectionSell:
		if p.Shares == nil || p.Shares.Sign() <= 0 {
			return domain.NewValidationError("sell share quantity must be positive")
		}
		held, err := v.ledger.Shares(ctx, in.Target, in.Requester, p.Side)
		if err != nil {
			return fmt.Errorf("validator: held shares: %w", err)
		}
		if p.Shares.Cmp(held) > 0 {
			return domain.NewValidationError("requested %s shares exceed held %s", p.Shares, held)
		}
	case domain.DirectionBuy:
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return domain.NewValidationError("trade amount must be positive")
		}
		balance, err := v.ledger.Balance(ctx, in.Requester)
		if err != nil {
			return fmt.Errorf("validator: balance: %w", err)
		}
		if p.Amount.Cmp(balance) > 0 {
			return domain.NewValidationError("trade amount %s exceeds available balance %s", p.Amount, balance)
		}
	default:
		return domain.NewValidationError("unknown trade direction %q", p.Direction)
	}
	return nil
}

func (v *Validator) checkResolve(ctx context.Context, in domain.Intent) error {
	p := in.Resolve
	if p == nil {
		return domain.NewValidationError("resolve intent missing parameters")
	}
	if !p.Outcome.Valid() {
		return domain.NewValidationError("unknown outcome %q", p.Outcome)
	}

	snap, err := v.ledger.MarketSnapshot(ctx, in.Target)
	if err != nil {
		return fmt.Errorf("validator: market snapshot: %w", err)
	}
	if snap.Resolved {
		return domain.NewValidationError("market %s is already resolved", in.Target.Hex())
	}
	if v.now().Before(snap.EndTime) {
		return domain.NewValidationError("market %s has not ended yet (ends %s)", in.Target.Hex(), snap.EndTime.Format(time.RFC3339))
	}
	if snap.Owner != in.Requester {
		return domain.NewValidationError("requester %s is not the market owner", in.Requester.Hex())
	}
	return nil
}

func (v *Validator) checkClaim(ctx context.Context, in domain.Intent) error {
	snap, err := v.ledger.MarketSnapshot(ctx, in.Target)
	if err != nil {
		return fmt.Errorf("validator: market snapshot: %w", err)
	}
	if !snap.Resolved {
		return domain.NewValidationError("market %s is not resolved yet", in.Target.Hex())
	}

	claimed, err := v.ledger.HasClaimed(ctx, in.Target, in.Requester)
	if err != nil {
		return fmt.Errorf("validator: claimed flag: %w", err)
	}
	if claimed {
		return domain.NewValidationError("winnings already claimed for market %s", in.Target.Hex())
	}

	payout, err := v.ledger.Payout(ctx, in.Target, in.Requester)
	if err != nil {
		return fmt.Errorf("validator: payout: %w", err)
	}
	if payout.Sign() <= 0 {
		return domain.NewValidationError("no payout available for market %s", in.Target.Hex())
	}
	return nil
}

func (v *Validator) checkFaucet(ctx context.Context, in domain.Intent) error {
	st, err := v.ledger.FaucetState(ctx, in.Requester)
	if err != nil {
		return fmt.Errorf("validator: faucet state: %w", err)
	}

	if !st.LastClaimAt.IsZero() {
		elapsed := v.now().Sub(st.LastClaimAt)
		if elapsed < v.faucetCooldown {
			return domain.NewValidationError("faucet cooldown active, %s remaining", (v.faucetCooldown - elapsed).Round(time.Second))
		}
	}
	if st.Reserve.Cmp(st.ClaimAmount) < 0 {
		return domain.NewValidationError("faucet reserve exhausted")
	}

	if in.Faucet != nil {
		in.Faucet.Amount = st.ClaimAmount
	}
	return nil
}

func (v *Validator) checkCreate(in domain.Intent) error {
	p := in.Create
	if p == nil {
		return domain.NewValidationError("create intent missing parameters")
	}
	if p.Question == "" {
		return domain.NewValidationError("market question must not be empty")
	}
	if !p.EndTime.After(v.now()) {
		return domain.NewValidationError("market end time must be in the future")
	}
	return nil
}
