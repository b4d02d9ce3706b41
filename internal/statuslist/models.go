package statuslist

import (
	"time"

	"attest/internal/credential"
)

// ListState tracks whether a status list still hands out indices.
// The transition AVAILABLE -> FULL is monotonic; a FULL list is never reopened
// for writes, though reads (and revocations of already-assigned indices)
// remain valid.
type ListState string

const (
	StateAvailable ListState = "AVAILABLE"
	StateFull      ListState = "FULL"
)

// List is one bitstring status list credential and its allocation state.
type List struct {
	ID            string
	IssuerID      string
	StatusPurpose credential.StatusPurpose
	CapacityBits  int
	// EncodedList is the gzip+base64url bitstring. Mutated only by the
	// synchronous revoke path and the consolidation job, never by issuance.
	EncodedList string
	State       ListState
	// VCDocument is the signed status list credential JSON served to verifiers.
	VCDocument string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AvailableIndex is one row of the physical free-list: a single bit position
// and whether it has been claimed. Rows exist so index assignment can be a
// single conditionally-locking update instead of an in-memory bitmap, which
// keeps allocation correct across service instances.
type AvailableIndex struct {
	ListID     string
	Index      int64
	IsAssigned bool
	AssignedAt *time.Time
}
