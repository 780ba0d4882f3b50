package quote

import (
	"context"
	"fmt"
	"time"

	"swap-relay/internal/cache"
	"swap-relay/internal/domain"
	"swap-relay/internal/idhash"
	"swap-relay/internal/solana"
)

// DefaultIssuedTTL is how long an issued message stays redeemable.
const DefaultIssuedTTL = 5 * time.Minute

// IssuedMessage describes a transaction message handed out to an owner.
type IssuedMessage struct {
	Owner     string
	Intent    domain.SwapIntent
	HasFee    bool
	FeeAmount uint64
	IssuedAt  int64 // Unix timestamp in milliseconds
	Artifact  domain.SwapArtifact
}

// IssuedRegistry remembers the messages of computed artifacts so a
// sponsorship request can be matched against what was actually issued.
type IssuedRegistry struct {
	entries *cache.TTLMap[IssuedMessage]
	ttl     time.Duration
}

// NewIssuedRegistry creates a registry whose entries expire after ttl.
func NewIssuedRegistry(ttl time.Duration, opts ...cache.Option) *IssuedRegistry {
	if ttl <= 0 {
		ttl = DefaultIssuedTTL
	}
	return &IssuedRegistry{entries: cache.NewTTLMap[IssuedMessage](opts...), ttl: ttl}
}

// Register records the message of artifact.
func (r *IssuedRegistry) Register(artifact *domain.SwapArtifact) error {
	tx, err := solana.DecodeTransactionBase64(artifact.TransactionBase64)
	if err != nil {
		return fmt.Errorf("decode artifact transaction: %w", err)
	}
	msg, err := tx.MessageBytes()
	if err != nil {
		return fmt.Errorf("serialize artifact message: %w", err)
	}

	owner := artifact.Request.Owner
	r.entries.Set(idhash.ComputeIssuedKey(owner, idhash.ComputeMessageHash(msg)), IssuedMessage{
		Owner:     owner,
		Intent:    artifact.Request.Intent,
		HasFee:    artifact.HasFee,
		FeeAmount: artifact.FeeAmount,
		IssuedAt:  artifact.ComputedAt,
		Artifact:  *artifact,
	}, r.ttl)
	return nil
}

// Lookup returns the issued entry for owner's serialized message.
func (r *IssuedRegistry) Lookup(owner string, message []byte) (IssuedMessage, bool) {
	return r.entries.Get(idhash.ComputeIssuedKey(owner, idhash.ComputeMessageHash(message)))
}

// Forget removes owner's message.
func (r *IssuedRegistry) Forget(owner string, message []byte) {
	r.entries.Delete(idhash.ComputeIssuedKey(owner, idhash.ComputeMessageHash(message)))
}

// Len returns the number of remembered messages.
func (r *IssuedRegistry) Len() int {
	return r.entries.Len()
}

// Run purges expired entries every interval until ctx is done.
func (r *IssuedRegistry) Run(ctx context.Context, interval time.Duration) {
	r.entries.Run(ctx, interval)
}
