package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-relay/internal/domain"
	"swap-relay/internal/quote"
	"swap-relay/internal/solana"
)

func (f *fixture) expectation(t *testing.T, hasFee bool, feeAmount uint64) expectation {
	t.Helper()
	exp, err := newExpectation(f.feePayer.PublicKey(), f.owner.PublicKey(), quote.IssuedMessage{
		Owner: f.owner.PublicKey().String(),
		Intent: domain.SwapIntent{
			BuyMint:      solana.WrappedSOLMint.String(),
			SellMint:     solana.USDCMainnetMint.String(),
			SellQuantity: 10_000_000,
		},
		HasFee:    hasFee,
		FeeAmount: feeAmount,
	}, f.fees)
	require.NoError(t, err)
	return exp
}

func TestValidateTransaction(t *testing.T) {
	f := newFixture(t)
	other := testKeypair(t, 9).PublicKey()
	stranger := testKeypair(t, 10).PublicKey()

	tests := []struct {
		name    string
		mutate  func(shape *txShape)
		noFee   bool
		wantErr bool
	}{
		{name: "issued shape", mutate: func(*txShape) {}},
		{name: "no fee swap", mutate: func(s *txShape) { s.feeAmount = 0 }, noFee: true},
		{name: "fee missing", mutate: func(s *txShape) { s.feeAmount = 0 }, wantErr: true},
		{name: "fee on a no fee swap", mutate: func(*txShape) {}, noFee: true, wantErr: true},
		{name: "fee recipient changed", mutate: func(s *txShape) { s.feeRecipient = other }, wantErr: true},
		{name: "fee amount lowered", mutate: func(s *txShape) { s.feeAmount = 9_999 }, wantErr: true},
		{name: "second fee transfer", mutate: func(s *txShape) {
			src, _ := solana.FindAssociatedTokenAddress(f.owner.PublicKey(), solana.USDCMainnetMint)
			s.extra = append(s.extra, solana.NewTokenTransferInstruction(src, f.recipient, f.owner.PublicKey(), 10_000))
		}, wantErr: true},
		{name: "fee paid from another account", mutate: func(s *txShape) {
			s.feeAmount = 0
			s.extra = append(s.extra, solana.NewTokenTransferInstruction(other, f.recipient, f.owner.PublicKey(), 10_000))
		}, wantErr: true},
		{name: "user to user transfer allowed", mutate: func(s *txShape) {
			src, _ := solana.FindAssociatedTokenAddress(f.owner.PublicKey(), solana.USDCMainnetMint)
			s.extra = append(s.extra, solana.NewTokenTransferInstruction(src, other, f.owner.PublicKey(), 5))
		}},
		{name: "fee payer as token authority", mutate: func(s *txShape) {
			s.extra = append(s.extra, solana.NewTokenTransferInstruction(other, stranger, f.feePayer.PublicKey(), 5))
		}, wantErr: true},
		{name: "system transfer from fee payer", mutate: func(s *txShape) {
			s.extra = append(s.extra, systemTransfer(f.feePayer.PublicKey(), other, 1))
		}, wantErr: true},
		{name: "system transfer from owner allowed", mutate: func(s *txShape) {
			s.extra = append(s.extra, systemTransfer(f.owner.PublicKey(), other, 1))
		}},
		{name: "system assign", mutate: func(s *txShape) {
			s.extra = append(s.extra, solana.Instruction{
				ProgramID: solana.SystemProgramID,
				Accounts:  []solana.AccountMeta{{PublicKey: f.owner.PublicKey(), IsSigner: true, IsWritable: true}},
				Data:      []byte{1, 0, 0, 0},
			})
		}, wantErr: true},
		{name: "unknown program", mutate: func(s *txShape) {
			s.extra = append(s.extra, solana.Instruction{ProgramID: other})
		}, wantErr: true},
		{name: "extra signer", mutate: func(s *txShape) {
			s.extra = append(s.extra, systemTransfer(stranger, other, 1))
		}, wantErr: true},
		{name: "two swaps", mutate: func(s *txShape) { s.swaps = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := f.defaultShape()
			tt.mutate(&shape)
			tx := f.compile(t, shape)

			exp := f.expectation(t, !tt.noFee, 10_000)
			err := validateTransaction(tx, tx.Message.AccountKeys, exp)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInstructionMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTransaction_WrongFeePayer(t *testing.T) {
	f := newFixture(t)
	tx := f.compile(t, f.defaultShape())

	exp := f.expectation(t, true, 10_000)
	exp.FeePayer = testKeypair(t, 11).PublicKey()

	err := validateTransaction(tx, tx.Message.AccountKeys, exp)
	assert.ErrorIs(t, err, domain.ErrInstructionMismatch)
}

func TestValidateTransaction_OwnerNotSigner(t *testing.T) {
	f := newFixture(t)
	tx := f.compile(t, f.defaultShape())

	exp := f.expectation(t, true, 10_000)
	exp.Owner = testKeypair(t, 12).PublicKey()

	err := validateTransaction(tx, tx.Message.AccountKeys, exp)
	assert.ErrorIs(t, err, domain.ErrInstructionMismatch)
}
