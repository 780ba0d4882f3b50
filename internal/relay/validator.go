package relay

import (
	"fmt"

	"swap-relay/internal/domain"
	"swap-relay/internal/quote"
	"swap-relay/internal/solana"
)

// allowedPrograms are the only programs a sponsored transaction may invoke.
var allowedPrograms = map[solana.PublicKey]struct{}{
	solana.ComputeBudgetProgramID:   {},
	solana.TokenProgramID:           {},
	solana.Token2022ProgramID:       {},
	solana.AssociatedTokenProgramID: {},
	solana.SystemProgramID:          {},
	solana.JupiterV6ProgramID:       {},
}

// expectation is what a sponsored transaction must carry.
type expectation struct {
	FeePayer  solana.PublicKey
	Owner     solana.PublicKey
	HasFee    bool
	FeeAmount uint64
	// FeeSource is the owner's token account the fee is paid from.
	FeeSource solana.PublicKey
	// FeeRecipient is the token account collecting fees. Zero when fees
	// are disabled.
	FeeRecipient solana.PublicKey
}

// newExpectation derives the expectation for an issued message.
func newExpectation(feePayer, owner solana.PublicKey, issued quote.IssuedMessage, fees *quote.FeePolicy) (expectation, error) {
	exp := expectation{
		FeePayer:  feePayer,
		Owner:     owner,
		HasFee:    issued.HasFee,
		FeeAmount: issued.FeeAmount,
	}
	if fees != nil {
		exp.FeeRecipient = fees.Recipient
	}
	if !issued.HasFee {
		return exp, nil
	}

	sellMint, err := solana.ParsePublicKey(issued.Intent.SellMint)
	if err != nil {
		return exp, fmt.Errorf("%w: sell mint: %v", domain.ErrInvalidIdentity, err)
	}
	if exp.FeeSource, err = solana.FindAssociatedTokenAddress(owner, sellMint); err != nil {
		return exp, fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}
	return exp, nil
}

// validateTransaction checks that tx is a swap the relay would have built
// for exp. keys is the full account key list of the message. Every failure
// wraps domain.ErrInstructionMismatch.
func validateTransaction(tx *solana.Transaction, keys []solana.PublicKey, exp expectation) error {
	msg := &tx.Message

	payer, ok := msg.FeePayer()
	if !ok || payer != exp.FeePayer {
		return mismatch("fee payer is not the relay account")
	}
	ownerIdx := tx.SignerIndex(exp.Owner)
	if ownerIdx < 0 {
		return mismatch("owner is not a signer")
	}
	if !tx.Signatures[ownerIdx].IsZero() {
		valid, err := tx.VerifySignature(exp.Owner)
		if err != nil || !valid {
			return mismatch("owner signature does not verify")
		}
	}
	for i, signer := range msg.Signers() {
		if signer != exp.FeePayer && signer != exp.Owner {
			return mismatch(fmt.Sprintf("unexpected signer %s at %d", signer, i))
		}
	}

	instructions, err := solana.DecompileInstructions(msg, keys)
	if err != nil {
		return mismatch(err.Error())
	}

	var swaps, feeTransfers int
	for i, ix := range instructions {
		if _, ok := allowedPrograms[ix.ProgramID]; !ok {
			return mismatch(fmt.Sprintf("instruction %d invokes program %s", i, ix.ProgramID))
		}
		if err := checkFeePayerUse(i, ix, exp.FeePayer); err != nil {
			return err
		}

		switch ix.ProgramID {
		case solana.JupiterV6ProgramID:
			swaps++
		case solana.SystemProgramID:
			if kind, ok := solana.SystemInstructionKind(ix.Data); ok && kind != solana.SystemInstructionTransfer {
				return mismatch(fmt.Sprintf("instruction %d: system instruction %d", i, kind))
			}
		case solana.TokenProgramID, solana.Token2022ProgramID:
			n, err := checkTokenInstruction(i, ix, exp)
			if err != nil {
				return err
			}
			feeTransfers += n
		}
	}

	if swaps != 1 {
		return mismatch(fmt.Sprintf("expected exactly one swap instruction, found %d", swaps))
	}
	if exp.HasFee && feeTransfers != 1 {
		return mismatch(fmt.Sprintf("expected one fee transfer, found %d", feeTransfers))
	}
	if !exp.HasFee && feeTransfers != 0 {
		return mismatch("unexpected fee transfer")
	}
	return nil
}

// checkFeePayerUse allows the fee payer account only as the rent payer of an
// associated token account creation or the rent destination of a token
// account close.
func checkFeePayerUse(i int, ix solana.Instruction, feePayer solana.PublicKey) error {
	for pos, acc := range ix.Accounts {
		if acc.PublicKey != feePayer {
			continue
		}
		switch {
		case ix.ProgramID == solana.AssociatedTokenProgramID && pos == 0:
		case isTokenProgram(ix.ProgramID) && solana.IsTokenCloseAccount(ix.Data) && pos == 1:
		default:
			return mismatch(fmt.Sprintf("instruction %d uses the fee payer at position %d", i, pos))
		}
	}
	return nil
}

// checkTokenInstruction validates token transfers touching the fee
// recipient and returns how many fee transfers ix is.
func checkTokenInstruction(i int, ix solana.Instruction, exp expectation) (int, error) {
	if len(ix.Data) == 0 {
		return 0, nil
	}
	if ix.Data[0] != solana.TokenInstructionTransfer && ix.Data[0] != solana.TokenInstructionTransferChecked {
		return 0, nil
	}

	keys := make([]solana.PublicKey, len(ix.Accounts))
	for j, a := range ix.Accounts {
		keys[j] = a.PublicKey
	}
	transfer, err := solana.DecodeTokenTransfer(ix.Data, keys)
	if err != nil {
		return 0, mismatch(fmt.Sprintf("instruction %d: %v", i, err))
	}

	if exp.FeeRecipient.IsZero() || transfer.Destination != exp.FeeRecipient {
		return 0, nil
	}
	if !exp.HasFee {
		return 0, mismatch(fmt.Sprintf("instruction %d pays the fee recipient", i))
	}
	if transfer.Amount != exp.FeeAmount {
		return 0, mismatch(fmt.Sprintf("instruction %d: fee %d, expected %d", i, transfer.Amount, exp.FeeAmount))
	}
	if transfer.Source != exp.FeeSource || transfer.Authority != exp.Owner {
		return 0, mismatch(fmt.Sprintf("instruction %d: fee not paid from the owner's account", i))
	}
	return 1, nil
}

func isTokenProgram(id solana.PublicKey) bool {
	return id == solana.TokenProgramID || id == solana.Token2022ProgramID
}

func mismatch(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrInstructionMismatch, reason)
}
