package relay

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swap-relay/internal/cache"
	"swap-relay/internal/domain"
	"swap-relay/internal/quote"
	"swap-relay/internal/solana"
	"swap-relay/internal/solana/stub"
	"swap-relay/internal/storage/memory"
)

var testBlockhash = solana.MustPublicKey("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N")

func testKeypair(t *testing.T, b byte) *solana.Keypair {
	t.Helper()
	kp, err := solana.KeypairFromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return kp
}

// countingSigner wraps a KeypairSigner, failing the first failures calls.
type countingSigner struct {
	*KeypairSigner
	calls    atomic.Int32
	failures int32
	err      error
}

func (s *countingSigner) SignAsFeePayer(ctx context.Context, message []byte) (solana.Signature, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return solana.Signature{}, s.err
	}
	return s.KeypairSigner.SignAsFeePayer(ctx, message)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture is a relay with a fee payer, an owner and a fee policy charging
// USDC sells.
type fixture struct {
	feePayer  *solana.Keypair
	owner     *solana.Keypair
	recipient solana.PublicKey
	fees      *quote.FeePolicy
	issued    *quote.IssuedRegistry
	signer    *countingSigner
	ledger    *memory.SponsorshipStore
	rpc       *stub.RPCClient
	clock     *fakeClock
	relay     *Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		feePayer:  testKeypair(t, 1),
		owner:     testKeypair(t, 2),
		recipient: testKeypair(t, 3).PublicKey(),
		issued:    quote.NewIssuedRegistry(quote.DefaultIssuedTTL),
		ledger:    memory.NewSponsorshipStore(),
		rpc:       stub.NewRPCClient(),
		clock:     &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}

	fees, err := quote.NewFeePolicy(quote.FeeConfig{
		Recipient:    f.recipient.String(),
		Mints:        []string{solana.USDCMainnetMint.String()},
		FeeBps:       10,
		MinFeeUSD:    "0.01",
		MinTradeUSD:  "1",
		MintDecimals: 6,
	})
	require.NoError(t, err)
	f.fees = fees

	f.signer = &countingSigner{KeypairSigner: NewKeypairSigner(f.feePayer)}
	f.relay, err = New(Options{
		Signer:        f.signer,
		RPC:           f.rpc,
		Issued:        f.issued,
		Fees:          f.fees,
		Cache:         NewMemoryCache(cache.WithClock(f.clock.Now)),
		Ledger:        f.ledger,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Now:           f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

// txShape describes the instructions of a test swap.
type txShape struct {
	feeAmount    uint64 // 0 means no fee transfer
	feeRecipient solana.PublicKey
	extra        []solana.Instruction
	swaps        int
	tables       []solana.AddressLookupTable
}

func (f *fixture) defaultShape() txShape {
	return txShape{feeAmount: 10_000, feeRecipient: f.recipient, swaps: 1}
}

// instructions builds the swap the quote engine would issue: fee transfer,
// compute budget, ATA setup paid by the fee payer, swap and wSOL cleanup.
func (f *fixture) instructions(t *testing.T, shape txShape) []solana.Instruction {
	t.Helper()
	owner := f.owner.PublicKey()
	sellATA, err := solana.FindAssociatedTokenAddress(owner, solana.USDCMainnetMint)
	require.NoError(t, err)
	buyATA, err := solana.FindAssociatedTokenAddress(owner, solana.WrappedSOLMint)
	require.NoError(t, err)

	var ixs []solana.Instruction
	if shape.feeAmount > 0 {
		ixs = append(ixs, solana.NewTokenTransferInstruction(sellATA, shape.feeRecipient, owner, shape.feeAmount))
	}
	ixs = append(ixs, solana.Instruction{
		ProgramID: solana.ComputeBudgetProgramID,
		Data:      []byte{2, 0x40, 0x0d, 0x03, 0x00},
	})

	create, err := solana.NewCreateAssociatedTokenAccountIdempotentInstruction(f.feePayer.PublicKey(), owner, solana.WrappedSOLMint)
	require.NoError(t, err)
	ixs = append(ixs, create)

	for i := 0; i < shape.swaps; i++ {
		ixs = append(ixs, solana.Instruction{
			ProgramID: solana.JupiterV6ProgramID,
			Accounts: []solana.AccountMeta{
				{PublicKey: owner, IsSigner: true},
				{PublicKey: sellATA, IsWritable: true},
				{PublicKey: buyATA, IsWritable: true},
			},
			Data: []byte{0xe5, 0x17, 0xcb, 0x97, byte(i)},
		})
	}

	ixs = append(ixs, solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: buyATA, IsWritable: true},
			{PublicKey: f.feePayer.PublicKey(), IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		Data: []byte{solana.TokenInstructionCloseAccount},
	})
	return append(ixs, shape.extra...)
}

// issue compiles shape, registers it as issued and returns the transaction
// signed by the owner.
func (f *fixture) issue(t *testing.T, shape txShape) string {
	t.Helper()
	tx := f.compile(t, shape)

	unsigned, err := tx.Base64()
	require.NoError(t, err)
	require.NoError(t, f.issued.Register(&domain.SwapArtifact{
		Request: domain.ActiveSwapRequest{
			Owner: f.owner.PublicKey().String(),
			Intent: domain.SwapIntent{
				BuyMint:      solana.WrappedSOLMint.String(),
				SellMint:     solana.USDCMainnetMint.String(),
				SellQuantity: 10_000_000,
			},
		},
		TransactionBase64: unsigned,
		HasFee:            shape.feeAmount > 0,
		FeeAmount:         shape.feeAmount,
		ComputedAt:        f.clock.Now().UnixMilli(),
	}))

	return f.signAsOwner(t, tx)
}

func (f *fixture) compile(t *testing.T, shape txShape) *solana.Transaction {
	t.Helper()
	msg, err := solana.CompileMessageV0(f.feePayer.PublicKey(), f.instructions(t, shape), testBlockhash, shape.tables)
	require.NoError(t, err)
	return solana.NewTransaction(msg)
}

func (f *fixture) signAsOwner(t *testing.T, tx *solana.Transaction) string {
	t.Helper()
	msg, err := tx.MessageBytes()
	require.NoError(t, err)
	require.NoError(t, tx.SetSignature(f.owner.PublicKey(), f.owner.Sign(msg)))
	encoded, err := tx.Base64()
	require.NoError(t, err)
	return encoded
}

func (f *fixture) ownerAddress() string {
	return f.owner.PublicKey().String()
}

func (f *fixture) request(tx string) SponsorRequest {
	return SponsorRequest{Owner: f.ownerAddress(), TransactionBase64: tx}
}
