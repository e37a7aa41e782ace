// Package ledger implements the signing/ledger provider: it assembles
// calldata for the market, token, and faucet contracts, signs and submits
// transactions, waits for receipts, and serves the read ports the validator
// consults.
package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/omenlabs/omend/internal/domain"
)

// --------------------------------------------------------------------------
// Function selectors (first 4 bytes of keccak256 of the canonical
// signatures).
// --------------------------------------------------------------------------

var (
	// Market contract.
	selBuy           = selector("buy(uint8,uint256)")
	selSell          = selector("sell(uint8,uint256)")
	selResolve       = selector("resolve(uint8)")
	selClaimWinnings = selector("claimWinnings()")
	selResolved      = selector("resolved()")
	selOutcome       = selector("declaredOutcome()")
	selEndTime       = selector("endTime()")
	selOwner         = selector("owner()")
	selPool          = selector("pool(uint8)")
	selSharesOf      = selector("sharesOf(address,uint8)")
	selPayoutOf      = selector("payoutOf(address)")
	selHasClaimed    = selector("hasClaimed(address)")

	// Collateral token.
	selApprove   = selector("approve(address,uint256)")
	selAllowance = selector("allowance(address,address)")
	selBalanceOf = selector("balanceOf(address)")

	// Faucet.
	selFaucetClaim = selector("claim()")
	selLastClaimAt = selector("lastClaimAt(address)")
	selReserve     = selector("reserve()")
	selClaimAmount = selector("claimAmount()")

	// Market factory.
	selCreateMarket = selector("createMarket(bytes32,uint256)")
)

func selector(signature string) []byte {
	return ethcrypto.Keccak256([]byte(signature))[:4]
}

// outcomeWord maps a domain outcome to its on-chain uint8 encoding.
func outcomeWord(o domain.Outcome) []byte {
	w := make([]byte, 32)
	if o == domain.OutcomeB {
		w[31] = 1
	}
	return w
}

// wordFromBig returns the 32-byte big-endian ABI word for n. Values that do
// not fit one word are rejected rather than silently truncated.
func wordFromBig(n *big.Int) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("ledger: nil numeric argument")
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("ledger: negative value %s cannot be ABI-encoded", n)
	}
	b := n.Bytes()
	if len(b) > 32 {
		return nil, fmt.Errorf("ledger: value %s does not fit a 32-byte word", n)
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded, nil
}

// wordFromAddress left-pads an address to a 32-byte ABI word.
func wordFromAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// pack concatenates a selector and ABI words into calldata.
func pack(sel []byte, words ...[]byte) []byte {
	total := len(sel)
	for _, w := range words {
		total += len(w)
	}
	buf := make([]byte, 0, total)
	buf = append(buf, sel...)
	for _, w := range words {
		buf = append(buf, w...)
	}
	return buf
}

// BuildCall assembles the ledger call for an intent. The allowance approval
// call is built by the preparer with exact-amount scoping; everything else
// maps one intent kind to one contract entry point.
func BuildCall(in domain.Intent) (domain.LedgerCall, error) {
	switch in.Kind {
	case domain.KindTrade:
		p := in.Trade
		if p == nil {
			return domain.LedgerCall{}, fmt.Errorf("ledger: trade intent without params")
		}
		if p.Direction == domain.DirectionSell {
			shares, err := wordFromBig(p.Shares)
			if err != nil {
				return domain.LedgerCall{}, err
			}
			return domain.LedgerCall{
				To:   in.Target,
				Data: pack(selSell, outcomeWord(p.Side), shares),
			}, nil
		}
		amount, err := wordFromBig(p.Amount)
		if err != nil {
			return domain.LedgerCall{}, err
		}
		return domain.LedgerCall{
			To:   in.Target,
			Data: pack(selBuy, outcomeWord(p.Side), amount),
		}, nil

	case domain.KindResolveMarket:
		if in.Resolve == nil {
			return domain.LedgerCall{}, fmt.Errorf("ledger: resolve intent without params")
		}
		return domain.LedgerCall{
			To:   in.Target,
			Data: pack(selResolve, outcomeWord(in.Resolve.Outcome)),
		}, nil

	case domain.KindClaimWinnings:
		return domain.LedgerCall{To: in.Target, Data: pack(selClaimWinnings)}, nil

	case domain.KindClaimFaucet:
		return domain.LedgerCall{To: in.Target, Data: pack(selFaucetClaim)}, nil

	case domain.KindApprove:
		p := in.Approve
		if p == nil {
			return domain.LedgerCall{}, fmt.Errorf("ledger: approve intent without params")
		}
		amount, err := wordFromBig(p.Amount)
		if err != nil {
			return domain.LedgerCall{}, err
		}
		return domain.LedgerCall{
			To:   in.Target,
			Data: pack(selApprove, wordFromAddress(p.Spender), amount),
		}, nil

	case domain.KindCreateMarket:
		p := in.Create
		if p == nil {
			return domain.LedgerCall{}, fmt.Errorf("ledger: create intent without params")
		}
		endTime, err := wordFromBig(big.NewInt(p.EndTime.Unix()))
		if err != nil {
			return domain.LedgerCall{}, err
		}
		question := ethcrypto.Keccak256([]byte(p.Question))
		return domain.LedgerCall{
			To:   in.Target,
			Data: pack(selCreateMarket, question, endTime),
		}, nil
	}

	return domain.LedgerCall{}, fmt.Errorf("ledger: unsupported intent kind %q", in.Kind)
}
