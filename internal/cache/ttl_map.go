// Package cache provides an in-process sharded map with per-entry expiry.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 32

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
}

// TTLMap is a string-keyed map whose entries expire. Expired entries are
// invisible to readers immediately and are removed lazily or by Run.
type TTLMap[V any] struct {
	shards []*shard[V]
	now    func() time.Time
}

// Option configures a TTLMap.
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewTTLMap creates an empty map.
func NewTTLMap[V any](opts ...Option) *TTLMap[V] {
	o := options{shards: defaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	m := &TTLMap[V]{shards: make([]*shard[V], o.shards), now: o.now}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return m
}

func (m *TTLMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Get returns the unexpired value for key.
func (m *TTLMap[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(s.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl, replacing any existing entry.
func (m *TTLMap[V]) Set(key string, value V, ttl time.Duration) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: m.now().Add(ttl)}
	s.mu.Unlock()
}

// SetIfAbsent stores value only if key has no unexpired entry. It returns
// the value now stored and whether it was inserted by this call.
func (m *TTLMap[V]) SetIfAbsent(key string, value V, ttl time.Duration) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	if e, ok := s.items[key]; ok && now.Before(e.expiresAt) {
		return e.value, false
	}
	s.items[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
	return value, true
}

// Delete removes key.
func (m *TTLMap[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (m *TTLMap[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Purge removes expired entries and returns how many were removed.
func (m *TTLMap[V]) Purge() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run purges expired entries every interval until ctx is done.
func (m *TTLMap[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Purge()
		}
	}
}
