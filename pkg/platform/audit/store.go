package audit

import "context"

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	// ListBySubject returns events for a subject, newest first. Used by
	// reconciliation tooling, not by the issuance path.
	ListBySubject(ctx context.Context, subject string, limit int) ([]Event, error)
}
