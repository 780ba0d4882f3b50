package solana

import "context"

// WSClient defines the Solana WebSocket subscriptions the relay uses.
type WSClient interface {
	// SignatureSubscribe waits for a transaction signature to reach the
	// client's commitment. The channel yields one notification and is closed.
	SignatureSubscribe(ctx context.Context, signature string) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification reports the outcome of a watched transaction.
type SignatureNotification struct {
	Signature string
	Slot      int64
	Err       interface{} // nil when the transaction succeeded
}
