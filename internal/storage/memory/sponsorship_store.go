package memory

import (
	"context"
	"sort"
	"sync"

	"swap-relay/internal/domain"
	"swap-relay/internal/storage"
)

// SponsorshipStore is an in-memory implementation of storage.SponsorshipStore.
type SponsorshipStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SponsorshipRecord // keyed by fingerprint
}

// NewSponsorshipStore creates a new in-memory sponsorship store.
func NewSponsorshipStore() *SponsorshipStore {
	return &SponsorshipStore{
		data: make(map[string]*domain.SponsorshipRecord),
	}
}

// Compile-time interface check.
var _ storage.SponsorshipStore = (*SponsorshipStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if the fingerprint exists.
func (s *SponsorshipStore) Insert(_ context.Context, r *domain.SponsorshipRecord) error {
	if r == nil || r.Fingerprint == "" || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.Fingerprint]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.Fingerprint] = &copy
	return nil
}

// GetByFingerprint retrieves a record by fingerprint.
func (s *SponsorshipStore) GetByFingerprint(_ context.Context, fingerprint string) (*domain.SponsorshipRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[fingerprint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *r
	return &copy, nil
}

// GetByOwner retrieves the most recent records of an owner, newest first.
func (s *SponsorshipStore) GetByOwner(_ context.Context, owner string, limit int) ([]*domain.SponsorshipRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SponsorshipRecord
	for _, r := range s.data {
		if r.Owner == owner {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].Fingerprint < result[j].Fingerprint
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountByTimeRange counts records created within [start, end).
func (s *SponsorshipStore) CountByTimeRange(_ context.Context, start, end int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.data {
		if r.CreatedAt >= start && r.CreatedAt < end {
			n++
		}
	}
	return n, nil
}
