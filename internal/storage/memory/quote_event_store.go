package memory

import (
	"context"
	"sort"
	"sync"

	"swap-relay/internal/domain"
	"swap-relay/internal/storage"
)

// QuoteEventStore is an in-memory implementation of storage.QuoteEventStore.
type QuoteEventStore struct {
	mu     sync.RWMutex
	events []*domain.QuoteEvent
}

// NewQuoteEventStore creates a new in-memory quote event store.
func NewQuoteEventStore() *QuoteEventStore {
	return &QuoteEventStore{}
}

// Compile-time interface check.
var _ storage.QuoteEventStore = (*QuoteEventStore)(nil)

// InsertBulk appends events.
func (s *QuoteEventStore) InsertBulk(_ context.Context, events []*domain.QuoteEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e == nil || e.Owner == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		copy := *e
		s.events = append(s.events, &copy)
	}
	return nil
}

// GetByOwner retrieves events of an owner within [start, end), ordered by timestamp ASC.
func (s *QuoteEventStore) GetByOwner(_ context.Context, owner string, start, end int64) ([]*domain.QuoteEvent, error) {
	return s.filter(func(e *domain.QuoteEvent) bool {
		return e.Owner == owner && e.Timestamp >= start && e.Timestamp < end
	}), nil
}

// GetByTimeRange retrieves all events within [start, end), ordered by timestamp ASC.
func (s *QuoteEventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.QuoteEvent, error) {
	return s.filter(func(e *domain.QuoteEvent) bool {
		return e.Timestamp >= start && e.Timestamp < end
	}), nil
}

func (s *QuoteEventStore) filter(keep func(*domain.QuoteEvent) bool) []*domain.QuoteEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.QuoteEvent
	for _, e := range s.events {
		if keep(e) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result
}
