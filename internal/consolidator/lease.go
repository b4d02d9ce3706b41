package consolidator

import (
	"context"
	"sync"
	"time"
)

// Lease provides cross-instance mutual exclusion for the consolidation job.
//
// Acquire succeeds when no live lease exists and reserves it for maxHold, the
// upper bound on one run's duration. Release shortens the reservation to
// minHold past acquisition, so a finished run still blocks immediate
// re-acquisition by another instance.
type Lease interface {
	Acquire(ctx context.Context, name string, maxHold time.Duration) (bool, error)
	Release(ctx context.Context, name string, minHold time.Duration) error
}

// MemoryLease is a single-process lease used in tests and single-instance
// deployments.
type MemoryLease struct {
	mu     sync.Mutex
	leases map[string]memoryLeaseState
	holder string
	clock  func() time.Time
}

type memoryLeaseState struct {
	holder     string
	acquiredAt time.Time
	heldUntil  time.Time
}

func NewMemoryLease(holder string) *MemoryLease {
	return &MemoryLease{
		leases: make(map[string]memoryLeaseState),
		holder: holder,
		clock:  time.Now,
	}
}

// WithClock overrides the time source for tests.
func (l *MemoryLease) WithClock(clock func() time.Time) *MemoryLease {
	l.clock = clock
	return l
}

func (l *MemoryLease) Acquire(_ context.Context, name string, maxHold time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if state, ok := l.leases[name]; ok && now.Before(state.heldUntil) && state.holder != l.holder {
		return false, nil
	}
	l.leases[name] = memoryLeaseState{holder: l.holder, acquiredAt: now, heldUntil: now.Add(maxHold)}
	return true, nil
}

func (l *MemoryLease) Release(_ context.Context, name string, minHold time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.leases[name]
	if !ok || state.holder != l.holder {
		return nil
	}
	until := state.acquiredAt.Add(minHold)
	if now := l.clock(); until.Before(now) {
		until = now
	}
	state.heldUntil = until
	l.leases[name] = state
	return nil
}
