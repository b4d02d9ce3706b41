package ledger

import (
	"context"
	"time"
)

// Store persists issuance records and the append-only status transaction log.
type Store interface {
	// SaveRecord appends one issuance record with its status details.
	SaveRecord(ctx context.Context, rec *Record) error

	// FindByStatus returns the record holding the given (list, index, purpose)
	// triple. Returns sentinel.ErrNotFound when no credential was issued there.
	FindByStatus(ctx context.Context, listID string, index int64, purpose string) (*Record, error)

	// FindByHash returns the record for a credential artifact hash.
	FindByHash(ctx context.Context, hash string) (*Record, error)

	// AppendTransaction inserts one status change event. CreatedAt zero means
	// "now" per the store clock.
	AppendTransaction(ctx context.Context, txn *Transaction) error

	// TransactionsSince returns transactions with CreatedAt strictly after
	// since, oldest first, bounded by limit.
	TransactionsSince(ctx context.Context, since time.Time, limit int) ([]Transaction, error)

	// LatestStatusPerIndex folds the transaction log of one list into the
	// latest value per index.
	LatestStatusPerIndex(ctx context.Context, listID string) (map[int64]bool, error)
}
