package relay

import (
	"context"
	"time"

	"swap-relay/internal/cache"
)

// DefaultIdempotencyTTL is how long a fee payer signature is replayed for
// the same fingerprint.
const DefaultIdempotencyTTL = 2 * time.Minute

// Entry is a recorded fee payer signature. Entries are never mutated.
type Entry struct {
	Signature string `json:"signature"` // base58 fee payer signature
	SignedAt  int64  `json:"signed_at"` // Unix timestamp in milliseconds
}

// IdempotencyCache maps a sponsorship fingerprint to its signature until
// the entry expires.
type IdempotencyCache interface {
	// Get returns the unexpired entry for fingerprint.
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)

	// PutIfAbsent stores entry unless an unexpired one exists. It returns the
	// entry now authoritative and whether this call stored it.
	PutIfAbsent(ctx context.Context, fingerprint string, entry Entry, ttl time.Duration) (Entry, bool, error)
}

// MemoryCache is a process local IdempotencyCache.
type MemoryCache struct {
	entries *cache.TTLMap[Entry]
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(opts ...cache.Option) *MemoryCache {
	return &MemoryCache{entries: cache.NewTTLMap[Entry](opts...)}
}

// Get returns the unexpired entry for fingerprint.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	e, ok := c.entries.Get(fingerprint)
	return e, ok, nil
}

// PutIfAbsent stores entry unless an unexpired one exists.
func (c *MemoryCache) PutIfAbsent(_ context.Context, fingerprint string, entry Entry, ttl time.Duration) (Entry, bool, error) {
	e, stored := c.entries.SetIfAbsent(fingerprint, entry, ttl)
	return e, stored, nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Run purges expired entries every interval until ctx is done.
func (c *MemoryCache) Run(ctx context.Context, interval time.Duration) {
	c.entries.Run(ctx, interval)
}

var _ IdempotencyCache = (*MemoryCache)(nil)
