package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer is the signing capability behind the submitter. An implementation
// may hold a local key or proxy to a remote holder; remote implementations
// surface domain.ErrUserDeclined when the holder rejects signing.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// LocalSigner signs with an in-process secp256k1 key. It never declines.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key (with
// or without 0x prefix).
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid private key: %w", err)
	}
	return &LocalSigner{
		key:  pk,
		addr: ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *LocalSigner) Address() common.Address {
	return s.addr
}

// SignTx signs the transaction for the given chain.
func (s *LocalSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign tx: %w", err)
	}
	return signed, nil
}
