package quote

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"swap-relay/internal/domain"
	"swap-relay/internal/solana"
)

func testKeypair(t *testing.T, b byte) *solana.Keypair {
	t.Helper()
	kp, err := solana.KeypairFromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return kp
}

// testRequest returns a resolved request of owner selling 10 USDC for SOL.
func testRequest(t *testing.T, owner solana.PublicKey) domain.ActiveSwapRequest {
	t.Helper()
	intent := domain.SwapIntent{
		BuyMint:      solana.WrappedSOLMint.String(),
		SellMint:     solana.USDCMainnetMint.String(),
		SellQuantity: 10_000_000,
	}
	buy, sell, err := solana.ResolveTokenAccounts(owner.String(), intent.BuyMint, intent.SellMint)
	require.NoError(t, err)
	return domain.ActiveSwapRequest{
		Intent:           intent,
		Owner:            owner.String(),
		BuyTokenAccount:  buy,
		SellTokenAccount: sell,
	}
}

// testTransaction builds an unsigned transaction paid by feePayer with one
// token transfer authorized by owner.
func testTransaction(t *testing.T, feePayer, owner solana.PublicKey, amount uint64) string {
	t.Helper()
	src, err := solana.FindAssociatedTokenAddress(owner, solana.USDCMainnetMint)
	require.NoError(t, err)
	ix := solana.NewTokenTransferInstruction(src, feePayer, owner, amount)

	msg, err := solana.CompileMessageV0(feePayer, []solana.Instruction{ix}, solana.MustPublicKey("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"), nil)
	require.NoError(t, err)
	tx, err := solana.NewTransaction(msg).Base64()
	require.NoError(t, err)
	return tx
}
