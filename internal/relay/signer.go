package relay

import (
	"context"
	"fmt"

	"swap-relay/internal/domain"
	"swap-relay/internal/solana"
)

// Signer produces the fee payer signature over a serialized message.
// Transient failures are reported as domain.ErrSignerUnavailable.
type Signer interface {
	PublicKey() solana.PublicKey
	SignAsFeePayer(ctx context.Context, message []byte) (solana.Signature, error)
}

// KeypairSigner signs with an in-process ed25519 keypair.
type KeypairSigner struct {
	keypair *solana.Keypair
}

// NewKeypairSigner creates a signer for keypair.
func NewKeypairSigner(keypair *solana.Keypair) *KeypairSigner {
	return &KeypairSigner{keypair: keypair}
}

// NewKeypairSignerFromBase58 decodes a base58 secret key.
func NewKeypairSignerFromBase58(secret string) (*KeypairSigner, error) {
	kp, err := solana.KeypairFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("fee payer key: %w", err)
	}
	return NewKeypairSigner(kp), nil
}

// PublicKey returns the fee payer address.
func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.keypair.PublicKey()
}

// SignAsFeePayer signs message.
func (s *KeypairSigner) SignAsFeePayer(ctx context.Context, message []byte) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", domain.ErrSignerUnavailable, err)
	}
	return s.keypair.Sign(message), nil
}

var _ Signer = (*KeypairSigner)(nil)
