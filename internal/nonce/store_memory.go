package nonce

import (
	"context"
	"sync"
	"time"

	"attest/pkg/sentinel"
)

// MemoryStore keeps nonce records in memory with lazy TTL eviction.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		clock:   time.Now,
	}
}

// WithClock overrides the eviction clock for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Put(_ context.Context, tokenIdentity string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[tokenIdentity] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenIdentity string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenIdentity]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	// Evict lazily so the map does not grow unbounded.
	if s.clock().After(rec.ExpiresAt()) {
		delete(s.records, tokenIdentity)
		return Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}
