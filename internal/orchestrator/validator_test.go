package orchestrator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omenlabs/omend/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestValidator(l *fakeLedger) *Validator {
	v := NewValidator(l, 24*time.Hour)
	v.now = fixedNow
	return v
}

func requireValidationError(t *testing.T, err error) *domain.OpError {
	t.Helper()
	require.Error(t, err)
	var opErr *domain.OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, domain.CodeValidation, opErr.Code)
	return opErr
}

func tradeIntent(p domain.TradeParams) domain.Intent {
	return domain.Intent{
		Kind:      domain.KindTrade,
		Target:    testMarket,
		Requester: testWallet,
		Trade:     &p,
	}
}

func TestValidateTradeBuy(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts buy within balance", func(t *testing.T) {
		l := newFakeLedger()
		l.balance = big.NewInt(1000)
		v := newTestValidator(l)

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeA, Direction: domain.DirectionBuy, Amount: big.NewInt(1000),
		}))
		require.NoError(t, err)
	})

	t.Run("rejects buy over balance", func(t *testing.T) {
		l := newFakeLedger()
		l.balance = big.NewInt(999)
		v := newTestValidator(l)

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeA, Direction: domain.DirectionBuy, Amount: big.NewInt(1000),
		}))
		requireValidationError(t, err)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		v := newTestValidator(newFakeLedger())

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeA, Direction: domain.DirectionBuy, Amount: big.NewInt(0),
		}))
		requireValidationError(t, err)
	})

	t.Run("rejects unknown side", func(t *testing.T) {
		v := newTestValidator(newFakeLedger())

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: "option_c", Direction: domain.DirectionBuy, Amount: big.NewInt(10),
		}))
		requireValidationError(t, err)
	})

	t.Run("rejects resolved market", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{Resolved: true}
		v := newTestValidator(l)

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeA, Direction: domain.DirectionBuy, Amount: big.NewInt(10),
		}))
		requireValidationError(t, err)
	})
}

func TestValidateTradeSell(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts sell within held shares", func(t *testing.T) {
		l := newFakeLedger()
		l.shares = big.NewInt(50)
		v := newTestValidator(l)

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeB, Direction: domain.DirectionSell, Shares: big.NewInt(50),
		}))
		require.NoError(t, err)
	})

	t.Run("rejects sell over held shares", func(t *testing.T) {
		l := newFakeLedger()
		l.shares = big.NewInt(49)
		v := newTestValidator(l)

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeB, Direction: domain.DirectionSell, Shares: big.NewInt(50),
		}))
		requireValidationError(t, err)
	})

	t.Run("rejects missing share quantity", func(t *testing.T) {
		v := newTestValidator(newFakeLedger())

		err := v.Check(ctx, tradeIntent(domain.TradeParams{
			Side: domain.OutcomeB, Direction: domain.DirectionSell,
		}))
		requireValidationError(t, err)
	})
}

func TestValidateResolve(t *testing.T) {
	ctx := context.Background()
	intent := func(outcome domain.Outcome) domain.Intent {
		return domain.Intent{
			Kind:      domain.KindResolveMarket,
			Target:    testMarket,
			Requester: testWallet,
			Resolve:   &domain.ResolveParams{Outcome: outcome},
		}
	}

	t.Run("accepts owner resolving an ended market", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{
			EndTime: fixedNow().Add(-time.Hour),
			Owner:   testWallet,
		}
		v := newTestValidator(l)
		require.NoError(t, v.Check(ctx, intent(domain.OutcomeA)))
	})

	t.Run("rejects before end time", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{
			EndTime: fixedNow().Add(time.Hour),
			Owner:   testWallet,
		}
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent(domain.OutcomeA)))
	})

	t.Run("rejects non-owner", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{
			EndTime: fixedNow().Add(-time.Hour),
			Owner:   testFaucet,
		}
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent(domain.OutcomeA)))
	})

	t.Run("rejects already resolved", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{
			Resolved: true,
			EndTime:  fixedNow().Add(-time.Hour),
			Owner:    testWallet,
		}
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent(domain.OutcomeA)))
	})

	t.Run("rejects invalid outcome", func(t *testing.T) {
		v := newTestValidator(newFakeLedger())
		requireValidationError(t, v.Check(ctx, intent("neither")))
	})
}

func TestValidateClaim(t *testing.T) {
	ctx := context.Background()
	intent := domain.Intent{
		Kind:      domain.KindClaimWinnings,
		Target:    testMarket,
		Requester: testWallet,
	}

	t.Run("accepts winning claim", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{Resolved: true, Outcome: domain.OutcomeA}
		l.payout = big.NewInt(777)
		v := newTestValidator(l)
		require.NoError(t, v.Check(ctx, intent))
	})

	t.Run("rejects unresolved market", func(t *testing.T) {
		l := newFakeLedger()
		l.payout = big.NewInt(777)
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent))
	})

	t.Run("rejects double claim", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{Resolved: true}
		l.payout = big.NewInt(777)
		l.claimed = true
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent))
	})

	t.Run("rejects zero payout", func(t *testing.T) {
		l := newFakeLedger()
		l.snap = domain.MarketSnapshot{Resolved: true}
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent))
	})
}

func TestValidateFaucet(t *testing.T) {
	ctx := context.Background()
	intent := func() domain.Intent {
		return domain.Intent{
			Kind:      domain.KindClaimFaucet,
			Target:    testFaucet,
			Requester: testWallet,
			Faucet:    &domain.FaucetParams{},
		}
	}

	t.Run("accepts first claim and fills grant amount", func(t *testing.T) {
		l := newFakeLedger()
		l.faucet = domain.FaucetState{
			Reserve:     big.NewInt(10_000),
			ClaimAmount: big.NewInt(250),
		}
		v := newTestValidator(l)

		in := intent()
		require.NoError(t, v.Check(ctx, in))
		require.NotNil(t, in.Faucet.Amount)
		require.Zero(t, in.Faucet.Amount.Cmp(big.NewInt(250)))
	})

	t.Run("accepts claim after cooldown elapsed", func(t *testing.T) {
		l := newFakeLedger()
		l.faucet = domain.FaucetState{
			LastClaimAt: fixedNow().Add(-25 * time.Hour),
			Reserve:     big.NewInt(10_000),
			ClaimAmount: big.NewInt(250),
		}
		v := newTestValidator(l)
		require.NoError(t, v.Check(ctx, intent()))
	})

	t.Run("rejects during cooldown", func(t *testing.T) {
		l := newFakeLedger()
		l.faucet = domain.FaucetState{
			LastClaimAt: fixedNow().Add(-time.Hour),
			Reserve:     big.NewInt(10_000),
			ClaimAmount: big.NewInt(250),
		}
		v := newTestValidator(l)
		opErr := requireValidationError(t, v.Check(ctx, intent()))
		require.Contains(t, opErr.Message, "cooldown")
	})

	t.Run("rejects exhausted reserve", func(t *testing.T) {
		l := newFakeLedger()
		l.faucet = domain.FaucetState{
			Reserve:     big.NewInt(100),
			ClaimAmount: big.NewInt(250),
		}
		v := newTestValidator(l)
		requireValidationError(t, v.Check(ctx, intent()))
	})
}

func TestValidateCreateMarket(t *testing.T) {
	ctx := context.Background()
	intent := func(question string, end time.Time) domain.Intent {
		return domain.Intent{
			Kind:      domain.KindCreateMarket,
			Target:    testMarket,
			Requester: testWallet,
			Create:    &domain.CreateParams{Question: question, EndTime: end},
		}
	}

	v := newTestValidator(newFakeLedger())

	require.NoError(t, v.Check(ctx, intent("Will it rain tomorrow?", fixedNow().Add(48*time.Hour))))
	requireValidationError(t, v.Check(ctx, intent("", fixedNow().Add(48*time.Hour))))
	requireValidationError(t, v.Check(ctx, intent("Will it rain tomorrow?", fixedNow().Add(-time.Hour))))
}

func TestValidateApprove(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(newFakeLedger())

	ok := domain.Intent{
		Kind:      domain.KindApprove,
		Target:    testToken,
		Requester: testWallet,
		Approve:   &domain.ApproveParams{Spender: testMarket, Amount: big.NewInt(10)},
	}
	require.NoError(t, v.Check(ctx, ok))

	bad := ok
	bad.Approve = &domain.ApproveParams{Spender: testMarket, Amount: big.NewInt(0)}
	requireValidationError(t, v.Check(ctx, bad))
}

func TestValidateUnknownKind(t *testing.T) {
	v := newTestValidator(newFakeLedger())
	requireValidationError(t, v.Check(context.Background(), domain.Intent{Kind: "transmogrify"}))
}
