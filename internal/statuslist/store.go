package statuslist

import (
	"context"
	"time"
)

// Store persists status lists and their free-list of indices.
//
// Implementations must guarantee that ClaimIndex never hands the same index
// to two callers, even across processes. The Postgres implementation relies
// on FOR UPDATE SKIP LOCKED; the memory implementation on a mutex.
type Store interface {
	// CreateList persists a new list and materializes one free-list row per
	// bit position in the same transaction.
	CreateList(ctx context.Context, list *List) error

	// FindAvailable returns an AVAILABLE list for the purpose.
	// Returns sentinel.ErrNotFound when none exists.
	FindAvailable(ctx context.Context, purpose string) (*List, error)

	// Get returns the list by id. Returns sentinel.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*List, error)

	// MarkFull transitions the list to FULL. Idempotent.
	MarkFull(ctx context.Context, id string) error

	// ClaimIndex atomically claims one unassigned index of the list and
	// returns it. Returns sentinel.ErrExhausted when no free row exists.
	ClaimIndex(ctx context.Context, listID string) (int64, error)

	// AssignedCount returns how many indices of the list are assigned.
	AssignedCount(ctx context.Context, listID string) (int64, error)

	// IsIndexAssigned reports whether the given bit position was handed out.
	IsIndexAssigned(ctx context.Context, listID string, index int64) (bool, error)

	// MutateEncodedList runs mutate over the current row under a row-level
	// lock and persists the returned encodedList/vcDocument in the same
	// transaction. Both the synchronous revoke path and the consolidation job
	// go through this so concurrent read-modify-writes cannot lose updates.
	MutateEncodedList(ctx context.Context, listID string, mutate func(list *List) (encodedList, vcDocument string, err error)) error

	// MaxUpdatedAt returns the newest updated_at across all lists, used as a
	// consolidation watermark fallback. Returns the zero time when no lists exist.
	MaxUpdatedAt(ctx context.Context) (time.Time, error)
}
