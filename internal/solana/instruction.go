package solana

import (
	"encoding/binary"
	"fmt"
)

// SPL token instruction discriminators.
const (
	TokenInstructionTransfer        uint8 = 3
	TokenInstructionCloseAccount    uint8 = 9
	TokenInstructionTransferChecked uint8 = 12
	TokenInstructionSyncNative      uint8 = 17
)

// AccountMeta is an account reference of an uncompiled instruction.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is an uncompiled instruction.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// NewTokenTransferInstruction builds an SPL token Transfer of amount base
// units from source to destination, authorized by owner.
func NewTokenTransferInstruction(source, destination, owner PublicKey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = TokenInstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			{PublicKey: source, IsWritable: true},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// NewCreateAssociatedTokenAccountIdempotentInstruction builds an associated
// token account creation funded by payer that is a no-op if the account exists.
func NewCreateAssociatedTokenAccountIdempotentInstruction(payer, owner, mint PublicKey) (Instruction, error) {
	ata, err := FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: ata, IsWritable: true},
			{PublicKey: owner},
			{PublicKey: mint},
			{PublicKey: SystemProgramID},
			{PublicKey: TokenProgramID},
		},
		Data: []byte{1},
	}, nil
}

// TokenTransfer is a decoded SPL token Transfer or TransferChecked.
type TokenTransfer struct {
	Source      PublicKey
	Destination PublicKey
	Authority   PublicKey
	Mint        PublicKey // zero for Transfer
	Amount      uint64
}

// DecodeTokenTransfer decodes a Transfer or TransferChecked instruction
// given its resolved account keys.
func DecodeTokenTransfer(data []byte, accounts []PublicKey) (TokenTransfer, error) {
	if len(data) == 0 {
		return TokenTransfer{}, fmt.Errorf("empty token instruction")
	}
	switch data[0] {
	case TokenInstructionTransfer:
		if len(data) != 9 || len(accounts) < 3 {
			return TokenTransfer{}, fmt.Errorf("malformed token transfer")
		}
		return TokenTransfer{
			Source:      accounts[0],
			Destination: accounts[1],
			Authority:   accounts[2],
			Amount:      binary.LittleEndian.Uint64(data[1:9]),
		}, nil
	case TokenInstructionTransferChecked:
		if len(data) != 10 || len(accounts) < 4 {
			return TokenTransfer{}, fmt.Errorf("malformed token transfer checked")
		}
		return TokenTransfer{
			Source:      accounts[0],
			Mint:        accounts[1],
			Destination: accounts[2],
			Authority:   accounts[3],
			Amount:      binary.LittleEndian.Uint64(data[1:9]),
		}, nil
	default:
		return TokenTransfer{}, fmt.Errorf("token instruction %d is not a transfer", data[0])
	}
}

// IsTokenCloseAccount reports whether data is an SPL token CloseAccount.
func IsTokenCloseAccount(data []byte) bool {
	return len(data) == 1 && data[0] == TokenInstructionCloseAccount
}

// System program instruction discriminators (u32 little endian).
const (
	SystemInstructionCreateAccount    uint32 = 0
	SystemInstructionAssign           uint32 = 1
	SystemInstructionTransfer         uint32 = 2
	SystemInstructionCreateWithSeed   uint32 = 3
	SystemInstructionTransferWithSeed uint32 = 11
)

// SystemInstructionKind returns the system program discriminator of data.
func SystemInstructionKind(data []byte) (uint32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[:4]), true
}
