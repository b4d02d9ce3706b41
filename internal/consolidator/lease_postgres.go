package consolidator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresLease implements Lease on a single leases table. Acquisition is one
// conditional upsert; expiry is compared against the application clock so all
// instances agree on the same time source as the rest of the job.
type PostgresLease struct {
	db     *sql.DB
	holder string
	clock  func() time.Time
}

func NewPostgresLease(db *sql.DB, holder string) *PostgresLease {
	return &PostgresLease{db: db, holder: holder, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (l *PostgresLease) WithClock(clock func() time.Time) *PostgresLease {
	l.clock = clock
	return l
}

func (l *PostgresLease) Acquire(ctx context.Context, name string, maxHold time.Duration) (bool, error) {
	now := l.clock()
	var holder string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO consolidation_leases (name, holder, acquired_at, held_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at, held_until = EXCLUDED.held_until
		WHERE consolidation_leases.held_until <= EXCLUDED.acquired_at
		   OR consolidation_leases.holder = EXCLUDED.holder
		RETURNING holder`,
		name, l.holder, now, now.Add(maxHold),
	).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return holder == l.holder, nil
}

func (l *PostgresLease) Release(ctx context.Context, name string, minHold time.Duration) error {
	now := l.clock()
	_, err := l.db.ExecContext(ctx, `
		UPDATE consolidation_leases
		SET held_until = GREATEST(acquired_at + $3 * interval '1 second', $4)
		WHERE name = $1 AND holder = $2`,
		name, l.holder, minHold.Seconds(), now,
	)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
