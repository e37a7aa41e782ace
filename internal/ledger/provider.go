package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/omenlabs/omend/internal/domain"
)

// Config holds the provider's chain parameters.
type Config struct {
	ChainID        int64
	TokenContract  common.Address
	FaucetContract common.Address
	GasLimit       uint64
	PollInterval   time.Duration
}

// Provider implements domain.LedgerReader, domain.OperationSubmitter, and
// domain.ReceiptWaiter against a JSON-RPC node. Submissions sign locally
// through the attached Signer; reads go straight to the node.
type Provider struct {
	client *ethclient.Client
	signer Signer
	cfg    Config
	logger *slog.Logger
}

// Dial connects to the node at rpcURL and returns a Provider.
func Dial(ctx context.Context, rpcURL string, signer Signer, cfg Config, logger *slog.Logger) (*Provider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Provider{
		client: client,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger")),
	}, nil
}

// Close releases the underlying RPC connection.
func (p *Provider) Close() {
	p.client.Close()
}

// Signer returns the attached signing capability.
func (p *Provider) Signer() Signer {
	return p.signer
}

// senderAddress returns the signing address, or the zero address when the
// provider runs read-only with no signer attached (monitor and reconcile
// modes resume watchers without one).
func (p *Provider) senderAddress() common.Address {
	if p.signer == nil {
		return common.Address{}
	}
	return p.signer.Address()
}

// --------------------------------------------------------------------------
// domain.OperationSubmitter
// --------------------------------------------------------------------------

// Submit signs and broadcasts a fully-assembled call, returning the
// operation hash. Each invocation produces at most one hash; a holder
// decline surfaces as domain.ErrUserDeclined and any pre-hash failure as a
// plain error so callers can classify it as a submission failure.
func (p *Provider) Submit(ctx context.Context, call domain.LedgerCall) (string, error) {
	if p.signer == nil {
		return "", errors.New("ledger: no signer attached (read-only mode)")
	}
	from := p.signer.Address()

	nonce, err := p.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("ledger: pending nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: suggest gas price: %w", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      p.cfg.GasLimit,
		To:       &call.To,
		Value:    value,
		Data:     call.Data,
	})

	signed, err := p.signer.SignTx(tx, big.NewInt(p.cfg.ChainID))
	if err != nil {
		if errors.Is(err, domain.ErrUserDeclined) {
			return "", domain.ErrUserDeclined
		}
		return "", fmt.Errorf("ledger: sign: %w", err)
	}

	if err := p.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("ledger: send transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	p.logger.InfoContext(ctx, "ledger: operation submitted",
		slog.String("hash", hash),
		slog.String("to", call.To.Hex()),
	)
	return hash, nil
}

// --------------------------------------------------------------------------
// domain.ReceiptWaiter
// --------------------------------------------------------------------------

// WaitForReceipt polls the node until a receipt for hash appears or the
// context ends. A missing receipt is never a failure: the hash remains
// valid, the caller keeps the record pending, and a new waiter can attach
// to the same hash later. Polling is idempotent and safe to run
// concurrently against one hash.
func (p *Provider) WaitForReceipt(ctx context.Context, hash string) (domain.Receipt, error) {
	h := common.HexToHash(hash)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := p.client.TransactionReceipt(ctx, h)
		switch {
		case err == nil:
			out := domain.Receipt{
				Success:     rcpt.Status == types.ReceiptStatusSuccessful,
				BlockNumber: rcpt.BlockNumber.Uint64(),
			}
			if !out.Success {
				out.RevertReason = p.revertReason(ctx, h, rcpt.BlockNumber)
			}
			return out, nil
		case errors.Is(err, ethereum.NotFound):
			// Not yet included; keep waiting.
		default:
			p.logger.WarnContext(ctx, "ledger: receipt poll failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays the transaction's call at its inclusion block to
// recover the revert string. Best effort: an empty string is returned when
// the node exposes no reason.
func (p *Provider) revertReason(ctx context.Context, hash common.Hash, block *big.Int) string {
	tx, _, err := p.client.TransactionByHash(ctx, hash)
	if err != nil || tx == nil {
		return ""
	}
	msg := ethereum.CallMsg{
		From:  p.senderAddress(),
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	if _, err := p.client.CallContract(ctx, msg, block); err != nil {
		return err.Error()
	}
	return ""
}

// --------------------------------------------------------------------------
// domain.LedgerReader
// --------------------------------------------------------------------------

func (p *Provider) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (p *Provider) callBig(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	out, err := p.call(ctx, to, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

func (p *Provider) callBool(ctx context.Context, to common.Address, data []byte) (bool, error) {
	n, err := p.callBig(ctx, to, data)
	if err != nil {
		return false, err
	}
	return n.Sign() != 0, nil
}

// MarketSnapshot reads the full market view used by the validator.
func (p *Provider) MarketSnapshot(ctx context.Context, market common.Address) (domain.MarketSnapshot, error) {
	snap := domain.MarketSnapshot{Market: market}

	resolved, err := p.callBool(ctx, market, pack(selResolved))
	if err != nil {
		return snap, fmt.Errorf("ledger: market resolved flag: %w", err)
	}
	snap.Resolved = resolved

	if resolved {
		outcome, err := p.callBig(ctx, market, pack(selOutcome))
		if err != nil {
			return snap, fmt.Errorf("ledger: market declared outcome: %w", err)
		}
		snap.Outcome = domain.OutcomeA
		if outcome.Sign() != 0 {
			snap.Outcome = domain.OutcomeB
		}
	}

	endTime, err := p.callBig(ctx, market, pack(selEndTime))
	if err != nil {
		return snap, fmt.Errorf("ledger: market end time: %w", err)
	}
	snap.EndTime = time.Unix(endTime.Int64(), 0).UTC()

	ownerWord, err := p.call(ctx, market, pack(selOwner))
	if err != nil {
		return snap, fmt.Errorf("ledger: market owner: %w", err)
	}
	snap.Owner = common.BytesToAddress(ownerWord)

	if snap.PoolA, err = p.callBig(ctx, market, pack(selPool, outcomeWord(domain.OutcomeA))); err != nil {
		return snap, fmt.Errorf("ledger: market pool A: %w", err)
	}
	if snap.PoolB, err = p.callBig(ctx, market, pack(selPool, outcomeWord(domain.OutcomeB))); err != nil {
		return snap, fmt.Errorf("ledger: market pool B: %w", err)
	}

	return snap, nil
}

// Balance reads the holder's collateral token balance.
func (p *Provider) Balance(ctx context.Context, holder common.Address) (*big.Int, error) {
	return p.callBig(ctx, p.cfg.TokenContract, pack(selBalanceOf, wordFromAddress(holder)))
}

// Shares reads the holder's share quantity on one side of a market.
func (p *Provider) Shares(ctx context.Context, market, holder common.Address, side domain.Outcome) (*big.Int, error) {
	return p.callBig(ctx, market, pack(selSharesOf, wordFromAddress(holder), outcomeWord(side)))
}

// Payout reads the holder's claimable winnings on a resolved market.
func (p *Provider) Payout(ctx context.Context, market, holder common.Address) (*big.Int, error) {
	return p.callBig(ctx, market, pack(selPayoutOf, wordFromAddress(holder)))
}

// HasClaimed reports whether the holder already claimed on the market.
func (p *Provider) HasClaimed(ctx context.Context, market, holder common.Address) (bool, error) {
	return p.callBool(ctx, market, pack(selHasClaimed, wordFromAddress(holder)))
}

// Allowance reads the spending allowance owner has granted to spender.
func (p *Provider) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return p.callBig(ctx, p.cfg.TokenContract, pack(selAllowance, wordFromAddress(owner), wordFromAddress(spender)))
}

// FaucetState reads the faucet view for the holder.
func (p *Provider) FaucetState(ctx context.Context, holder common.Address) (domain.FaucetState, error) {
	var st domain.FaucetState

	last, err := p.callBig(ctx, p.cfg.FaucetContract, pack(selLastClaimAt, wordFromAddress(holder)))
	if err != nil {
		return st, fmt.Errorf("ledger: faucet last claim: %w", err)
	}
	if last.Sign() != 0 {
		st.LastClaimAt = time.Unix(last.Int64(), 0).UTC()
	}

	if st.Reserve, err = p.callBig(ctx, p.cfg.FaucetContract, pack(selReserve)); err != nil {
		return st, fmt.Errorf("ledger: faucet reserve: %w", err)
	}
	if st.ClaimAmount, err = p.callBig(ctx, p.cfg.FaucetContract, pack(selClaimAmount)); err != nil {
		return st, fmt.Errorf("ledger: faucet claim amount: %w", err)
	}
	return st, nil
}

// Compile-time interface checks.
var (
	_ domain.LedgerReader       = (*Provider)(nil)
	_ domain.OperationSubmitter = (*Provider)(nil)
	_ domain.ReceiptWaiter      = (*Provider)(nil)
)
