package statuslist

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
)

// fakeBuilder stands in for the json-ld signing pipeline.
type fakeBuilder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (b *fakeBuilder) BuildStatusListCredential(_ context.Context, list *List) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail {
		return "", fmt.Errorf("signing backend down")
	}
	return fmt.Sprintf(`{"id":%q,"encodedList":%q}`, list.ID, list.EncodedList), nil
}

// =============================================================================
// Allocator Test Suite
// =============================================================================

type AllocatorSuite struct {
	suite.Suite
	store     *MemoryStore
	builder   *fakeBuilder
	allocator *Allocator
}

func TestAllocatorSuite(t *testing.T) {
	suite.Run(t, new(AllocatorSuite))
}

func (s *AllocatorSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.builder = &fakeBuilder{}
	var err error
	s.allocator, err = NewAllocator(s.store, s.builder, "did:web:issuer.test", "https://issuer.test/status-lists")
	s.Require().NoError(err)
}

func (s *AllocatorSuite) TestNewAllocator() {
	s.Run("nil store returns error", func() {
		_, err := NewAllocator(nil, s.builder, "iss", "url")
		s.Error(err)
	})

	s.Run("capacity below the bitstring minimum is rejected", func() {
		_, err := NewAllocator(s.store, s.builder, "iss", "url", WithCapacity(1024, 50))
		s.Error(err)
		s.Contains(err.Error(), "bitstring status list minimum")
	})

	s.Run("usable percent outside (0,100] is rejected", func() {
		_, err := NewAllocator(s.store, s.builder, "iss", "url", WithCapacity(MinCapacityBits, 0))
		s.Error(err)
		_, err = NewAllocator(s.store, s.builder, "iss", "url", WithCapacity(MinCapacityBits, 101))
		s.Error(err)
	})
}

func (s *AllocatorSuite) TestFindOrCreate() {
	ctx := context.Background()

	s.Run("creates a signed list when none exists", func() {
		list, err := s.allocator.FindOrCreate(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)
		s.Equal(StateAvailable, list.State)
		s.Equal(MinCapacityBits, list.CapacityBits)
		s.NotEmpty(list.EncodedList)
		s.NotEmpty(list.VCDocument)
		s.Equal(1, s.builder.calls)
	})

	s.Run("returns the existing list on the second call", func() {
		first, err := s.allocator.FindOrCreate(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)
		second, err := s.allocator.FindOrCreate(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
	})

	s.Run("purposes get separate lists", func() {
		rev, err := s.allocator.FindOrCreate(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)
		sus, err := s.allocator.FindOrCreate(ctx, credential.PurposeSuspension)
		s.Require().NoError(err)
		s.NotEqual(rev.ID, sus.ID)
	})

	s.Run("signing failure aborts creation", func() {
		// Fresh store: an already-created list would satisfy the lookup
		// before the builder ever runs.
		failing := &fakeBuilder{fail: true}
		alloc, err := NewAllocator(NewMemoryStore(), failing, "iss", "url")
		s.Require().NoError(err)
		_, err = alloc.FindOrCreate(ctx, credential.PurposeSuspension)
		s.Error(err)
	})
}

func (s *AllocatorSuite) TestAcquireIndex() {
	ctx := context.Background()

	s.Run("hands out distinct indices under concurrency", func() {
		list, err := s.allocator.FindOrCreate(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)

		const claimers = 64
		results := make(chan int64, claimers)
		var wg sync.WaitGroup
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				index, ok, err := s.allocator.AcquireIndex(ctx, list)
				if err == nil && ok {
					results <- index
				}
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[int64]bool)
		for index := range results {
			s.False(seen[index], "index %d handed out twice", index)
			seen[index] = true
		}
		s.Len(seen, claimers)
	})

	s.Run("crossing the usable threshold marks the list FULL", func() {
		list, err := s.allocator.FindOrCreate(ctx, credential.PurposeSuspension)
		s.Require().NoError(err)

		// Pre-assign up to the 50% threshold directly in the store.
		threshold := MinCapacityBits / 2
		s.store.mu.Lock()
		for i := 0; i < threshold; i++ {
			s.store.indices[list.ID][i] = true
		}
		s.store.mu.Unlock()

		_, ok, err := s.allocator.AcquireIndex(ctx, list)
		s.Require().NoError(err)
		s.False(ok)

		stored, err := s.store.Get(ctx, list.ID)
		s.Require().NoError(err)
		s.Equal(StateFull, stored.State)
	})
}

func (s *AllocatorSuite) TestAddCredentialStatus() {
	ctx := context.Background()

	s.Run("returns a complete status entry", func() {
		entry, err := s.allocator.AddCredentialStatus(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)
		s.Equal(credential.StatusEntryType, entry.Type)
		s.Equal(credential.PurposeRevocation, entry.StatusPurpose)
		s.Equal("0", entry.StatusListIndex)
		s.Contains(entry.StatusListCredential, "https://issuer.test/status-lists/")
		s.Equal(entry.StatusListCredential+"#0", entry.ID)
	})

	s.Run("full list rolls over to a fresh list", func() {
		list, err := s.allocator.FindOrCreate(ctx, credential.PurposeSuspension)
		s.Require().NoError(err)
		s.store.mu.Lock()
		for i := range s.store.indices[list.ID] {
			s.store.indices[list.ID][i] = true
		}
		s.store.mu.Unlock()

		entry, err := s.allocator.AddCredentialStatus(ctx, credential.PurposeSuspension)
		s.Require().NoError(err)
		s.NotContains(entry.StatusListCredential, list.ID)
		s.Equal("0", entry.StatusListIndex)

		stored, err := s.store.Get(ctx, list.ID)
		s.Require().NoError(err)
		s.Equal(StateFull, stored.State)
	})

	s.Run("simultaneous allocations never share an index", func() {
		const callers = 32
		type result struct {
			entry credential.StatusEntry
			err   error
		}
		results := make(chan result, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				entry, err := s.allocator.AddCredentialStatus(ctx, credential.PurposeRevocation)
				results <- result{entry: entry, err: err}
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[string]bool)
		for r := range results {
			s.Require().NoError(r.err)
			key := r.entry.StatusListCredential + "#" + r.entry.StatusListIndex
			s.False(seen[key], "status position %s handed out twice", key)
			seen[key] = true
		}
		s.Len(seen, callers)
	})
}

func (s *AllocatorSuite) TestGetSignedCredential() {
	ctx := context.Background()

	s.Run("returns the stored document", func() {
		list, err := s.allocator.FindOrCreate(ctx, credential.PurposeRevocation)
		s.Require().NoError(err)
		doc, err := s.allocator.GetSignedCredential(ctx, list.ID)
		s.NoError(err)
		s.Equal(list.VCDocument, doc)
	})

	s.Run("unknown id maps to not found", func() {
		_, err := s.allocator.GetSignedCredential(ctx, "no-such-list")
		s.Error(err)
		s.Equal(derrors.CodeNotFound, derrors.CodeOf(err))
	})
}
