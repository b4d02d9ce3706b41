package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"attest/pkg/sentinel"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	txns    []Transaction
	nextID  int64
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		nextID:  1,
		clock:   time.Now,
	}
}

// WithClock overrides the store clock for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.CredentialID]; ok {
		return sentinel.ErrConflict
	}
	cp := *rec
	cp.StatusDetails = append([]StatusDetail(nil), rec.StatusDetails...)
	s.records[rec.CredentialID] = &cp
	return nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, listID string, index int64, purpose string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		for _, d := range rec.StatusDetails {
			if d.StatusListCredentialID == listID && d.StatusListIndex == index && string(d.StatusPurpose) == purpose {
				cp := *rec
				return &cp, nil
			}
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.CredentialHash == hash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) AppendTransaction(_ context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *txn
	cp.ID = s.nextID
	s.nextID++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clock()
	}
	s.txns = append(s.txns, cp)
	txn.ID = cp.ID
	txn.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) TransactionsSince(_ context.Context, since time.Time, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txns {
		if t.CreatedAt.After(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LatestStatusPerIndex(_ context.Context, listID string) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := make([]Transaction, 0, len(s.txns))
	for _, t := range s.txns {
		if t.StatusListCredentialID == listID {
			ordered = append(ordered, t)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	latest := make(map[int64]bool)
	for _, t := range ordered {
		latest[t.StatusListIndex] = t.StatusValue
	}
	return latest, nil
}
