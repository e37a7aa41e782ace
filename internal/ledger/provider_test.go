package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omenlabs/omend/internal/domain"
)

func TestSenderAddressWithoutSigner(t *testing.T) {
	// Monitor and reconcile modes attach no signer; the replay sender must
	// degrade to the zero address instead of dereferencing a nil interface.
	p := &Provider{}
	require.NotPanics(t, func() {
		require.Equal(t, common.Address{}, p.senderAddress())
	})
}

func TestSenderAddressWithSigner(t *testing.T) {
	signer, err := NewLocalSigner(testKeyHex)
	require.NoError(t, err)

	p := &Provider{signer: signer}
	require.Equal(t, signer.Address(), p.senderAddress())
}

func TestSubmitWithoutSignerFails(t *testing.T) {
	p := &Provider{}
	_, err := p.Submit(context.Background(), domain.LedgerCall{To: market})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no signer")
}
