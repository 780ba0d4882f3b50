package solana

import "context"

// RPCClient defines the Solana JSON-RPC methods the relay depends on.
type RPCClient interface {
	// GetLatestBlockhash returns a recent blockhash for new messages.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// GetAccountInfo returns account info or nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetAddressLookupTables fetches and decodes lookup tables.
	GetAddressLookupTables(ctx context.Context, keys []PublicKey) ([]AddressLookupTable, error)

	// SimulateTransaction simulates a signed transaction.
	SimulateTransaction(ctx context.Context, txBase64 string) (*SimulationResult, error)

	// SendTransaction submits a signed transaction and returns its signature.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// GetSignatureStatuses returns the status of each signature, nil if unknown.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
}

// LatestBlockhash from getLatestBlockhash.
type LatestBlockhash struct {
	Blockhash            Hash
	LastValidBlockHeight uint64
}

// SimulationResult from simulateTransaction.
type SimulationResult struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed uint64
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int64
	Err                interface{}
	ConfirmationStatus string // processed | confirmed | finalized
}

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// IsConfirmed reports whether the status reached at least confirmed.
func (s *SignatureStatus) IsConfirmed() bool {
	return s != nil && (s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized)
}
