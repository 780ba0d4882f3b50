package storage

import (
	"context"

	"swap-relay/internal/domain"
)

// SponsorshipStore provides access to the sponsorships ledger.
type SponsorshipStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if the fingerprint exists.
	Insert(ctx context.Context, r *domain.SponsorshipRecord) error

	// GetByFingerprint retrieves a record by fingerprint. Returns ErrNotFound if not exists.
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.SponsorshipRecord, error)

	// GetByOwner retrieves the most recent records of an owner, newest first.
	GetByOwner(ctx context.Context, owner string, limit int) ([]*domain.SponsorshipRecord, error)

	// CountByTimeRange counts records created within [start, end).
	CountByTimeRange(ctx context.Context, start, end int64) (int, error)
}

// QuoteEventStore provides access to quote_events analytics storage.
type QuoteEventStore interface {
	// InsertBulk appends events. Events are not deduplicated.
	InsertBulk(ctx context.Context, events []*domain.QuoteEvent) error

	// GetByOwner retrieves events of an owner within [start, end), ordered by timestamp ASC.
	GetByOwner(ctx context.Context, owner string, start, end int64) ([]*domain.QuoteEvent, error)

	// GetByTimeRange retrieves all events within [start, end), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.QuoteEvent, error)
}
