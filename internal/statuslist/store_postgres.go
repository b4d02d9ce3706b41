package statuslist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attest/internal/credential"
	"attest/pkg/sentinel"
)

// PostgresStore persists status lists in PostgreSQL. The free-list table
// carries one row per bit position so that index assignment is a single
// conditionally-locking update; FOR UPDATE SKIP LOCKED keeps concurrent
// claimers from blocking on or observing each other's rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateList(ctx context.Context, list *List) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create list tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_lists (id, issuer_id, status_purpose, capacity_bits, encoded_list, state, vc_document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, list.ID, list.IssuerID, string(list.StatusPurpose), list.CapacityBits, list.EncodedList, string(list.State), list.VCDocument)
	if err != nil {
		return fmt.Errorf("insert status list: %w", err)
	}

	// Materialize the free-list in one statement; one row per bit position.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_list_indices (list_id, idx, is_assigned)
		SELECT $1, gs, false FROM generate_series(0, $2::bigint - 1) AS gs
	`, list.ID, list.CapacityBits)
	if err != nil {
		return fmt.Errorf("materialize free-list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create list tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAvailable(ctx context.Context, purpose string) (*List, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, issuer_id, status_purpose, capacity_bits, encoded_list, state, vc_document, created_at, updated_at
		FROM status_lists
		WHERE status_purpose = $1 AND state = $2
		ORDER BY created_at
		LIMIT 1
	`, purpose, string(StateAvailable))
	return scanList(row)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*List, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, issuer_id, status_purpose, capacity_bits, encoded_list, state, vc_document, created_at, updated_at
		FROM status_lists
		WHERE id = $1
	`, id)
	return scanList(row)
}

func (s *PostgresStore) MarkFull(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE status_lists SET state = $2, updated_at = now() WHERE id = $1
	`, id, string(StateFull))
	if err != nil {
		return fmt.Errorf("mark list full: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ClaimIndex selects one unassigned row with FOR UPDATE SKIP LOCKED and flips
// it to assigned in the same statement. This is the correctness-critical
// primitive: two concurrent transactions can never lock the same row, so no
// two callers ever receive the same index.
func (s *PostgresStore) ClaimIndex(ctx context.Context, listID string) (int64, error) {
	var index int64
	err := s.db.QueryRowContext(ctx, `
		WITH candidate AS (
			SELECT idx
			FROM status_list_indices
			WHERE list_id = $1 AND is_assigned = false
			ORDER BY idx
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE status_list_indices i
		SET is_assigned = true, assigned_at = now()
		FROM candidate
		WHERE i.list_id = $1 AND i.idx = candidate.idx
		RETURNING i.idx
	`, listID).Scan(&index)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrExhausted
		}
		return 0, fmt.Errorf("claim index: %w", err)
	}
	return index, nil
}

func (s *PostgresStore) AssignedCount(ctx context.Context, listID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM status_list_indices WHERE list_id = $1 AND is_assigned = true
	`, listID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assigned indices: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) IsIndexAssigned(ctx context.Context, listID string, index int64) (bool, error) {
	var assigned bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_assigned FROM status_list_indices WHERE list_id = $1 AND idx = $2
	`, listID, index).Scan(&assigned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check index assignment: %w", err)
	}
	return assigned, nil
}

// MutateEncodedList re-fetches the list row FOR UPDATE, applies mutate, and
// commits the new encodedList/vcDocument in the same transaction. Holding the
// row lock across the read-modify-write is what keeps the synchronous revoke
// path and the consolidation job from losing each other's updates.
func (s *PostgresStore) MutateEncodedList(ctx context.Context, listID string, mutate func(list *List) (string, string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutate list tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT id, issuer_id, status_purpose, capacity_bits, encoded_list, state, vc_document, created_at, updated_at
		FROM status_lists
		WHERE id = $1
		FOR UPDATE
	`, listID)
	list, err := scanList(row)
	if err != nil {
		return err
	}

	encoded, vcDoc, err := mutate(list)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE status_lists SET encoded_list = $2, vc_document = $3, updated_at = now() WHERE id = $1
	`, listID, encoded, vcDoc); err != nil {
		return fmt.Errorf("update encoded list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mutate list tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) MaxUpdatedAt(ctx context.Context) (time.Time, error) {
	var max sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT max(updated_at) FROM status_lists`).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("max list updated_at: %w", err)
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	return max.Time, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (*List, error) {
	var (
		l       List
		purpose string
		state   string
	)
	err := row.Scan(&l.ID, &l.IssuerID, &purpose, &l.CapacityBits, &l.EncodedList, &state, &l.VCDocument, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan status list: %w", err)
	}
	l.StatusPurpose = credential.StatusPurpose(purpose)
	l.State = ListState(state)
	return &l, nil
}
