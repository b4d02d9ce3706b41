package statuslist

import (
	"context"
	"sync"
	"time"

	"attest/pkg/sentinel"
)

// MemoryStore is an in-memory Store used in tests and single-instance
// development runs. Claim semantics match the Postgres implementation:
// one mutex-guarded pass hands out each index exactly once.
type MemoryStore struct {
	mu      sync.Mutex
	lists   map[string]*List
	indices map[string][]bool // listID -> assigned flags, position = index
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:   make(map[string]*List),
		indices: make(map[string][]bool),
		clock:   time.Now,
	}
}

// WithClock overrides the store clock for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) CreateList(_ context.Context, list *List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[list.ID]; ok {
		return sentinel.ErrConflict
	}
	now := s.clock()
	cp := *list
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.lists[list.ID] = &cp
	s.indices[list.ID] = make([]bool, list.CapacityBits)
	return nil
}

func (s *MemoryStore) FindAvailable(_ context.Context, purpose string) (*List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *List
	for _, l := range s.lists {
		if string(l.StatusPurpose) != purpose || l.State != StateAvailable {
			continue
		}
		// Deterministic pick: oldest list first.
		if best == nil || l.CreatedAt.Before(best.CreatedAt) {
			best = l
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) MarkFull(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	l.State = StateFull
	l.UpdatedAt = s.clock()
	return nil
}

func (s *MemoryStore) ClaimIndex(_ context.Context, listID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assigned, ok := s.indices[listID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	for i, taken := range assigned {
		if !taken {
			assigned[i] = true
			return int64(i), nil
		}
	}
	return 0, sentinel.ErrExhausted
}

func (s *MemoryStore) AssignedCount(_ context.Context, listID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assigned, ok := s.indices[listID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	var n int64
	for _, taken := range assigned {
		if taken {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) IsIndexAssigned(_ context.Context, listID string, index int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assigned, ok := s.indices[listID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if index < 0 || index >= int64(len(assigned)) {
		return false, nil
	}
	return assigned[index], nil
}

func (s *MemoryStore) MutateEncodedList(_ context.Context, listID string, mutate func(list *List) (string, string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[listID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *l
	encoded, vcDoc, err := mutate(&cp)
	if err != nil {
		return err
	}
	l.EncodedList = encoded
	l.VCDocument = vcDoc
	l.UpdatedAt = s.clock()
	return nil
}

func (s *MemoryStore) MaxUpdatedAt(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max time.Time
	for _, l := range s.lists {
		if l.UpdatedAt.After(max) {
			max = l.UpdatedAt
		}
	}
	return max, nil
}
