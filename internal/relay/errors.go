package relay

import "errors"

// Broadcast errors.
var (
	// ErrSimulationFailed is returned when the node rejects the transaction
	// during preflight simulation.
	ErrSimulationFailed = errors.New("transaction simulation failed")

	// ErrTransactionFailed is returned when a confirmed transaction carries
	// an execution error.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrNotConfirmed is returned when a sent transaction did not reach
	// confirmed commitment within the retry budget.
	ErrNotConfirmed = errors.New("transaction not confirmed")

	// ErrIncompleteSignatures is returned when a transaction submitted for
	// broadcast still has empty signature slots.
	ErrIncompleteSignatures = errors.New("transaction is not fully signed")
)
