package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attest/internal/credential"
	"attest/pkg/sentinel"
)

// PostgresStore persists the ledger in PostgreSQL. The transaction table is
// append-only; nothing ever updates or deletes its rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save record tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	attrs, err := json.Marshal(rec.IndexedAttributes)
	if err != nil {
		return fmt.Errorf("marshal indexed attributes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_records (credential_id, issuer_id, credential_type, issuance_date, expiration_date, indexed_attributes, credential_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.CredentialID, rec.IssuerID, rec.CredentialType, rec.IssuanceDate, rec.ExpirationDate, attrs, rec.CredentialHash)
	if err != nil {
		return fmt.Errorf("insert ledger record: %w", err)
	}

	for _, d := range rec.StatusDetails {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_status_details (credential_id, status_list_credential_id, status_list_index, status_purpose)
			VALUES ($1, $2, $3, $4)
		`, rec.CredentialID, d.StatusListCredentialID, d.StatusListIndex, string(d.StatusPurpose))
		if err != nil {
			return fmt.Errorf("insert status detail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save record tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, listID string, index int64, purpose string) (*Record, error) {
	var credentialID string
	err := s.db.QueryRowContext(ctx, `
		SELECT credential_id FROM ledger_status_details
		WHERE status_list_credential_id = $1 AND status_list_index = $2 AND status_purpose = $3
	`, listID, index, purpose).Scan(&credentialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find status detail: %w", err)
	}
	return s.loadRecord(ctx, credentialID)
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*Record, error) {
	var credentialID string
	err := s.db.QueryRowContext(ctx, `
		SELECT credential_id FROM ledger_records WHERE credential_hash = $1
	`, hash).Scan(&credentialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find record by hash: %w", err)
	}
	return s.loadRecord(ctx, credentialID)
}

func (s *PostgresStore) loadRecord(ctx context.Context, credentialID string) (*Record, error) {
	var (
		rec   Record
		attrs []byte
		exp   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT credential_id, issuer_id, credential_type, issuance_date, expiration_date, indexed_attributes, credential_hash
		FROM ledger_records
		WHERE credential_id = $1
	`, credentialID).Scan(&rec.CredentialID, &rec.IssuerID, &rec.CredentialType, &rec.IssuanceDate, &exp, &attrs, &rec.CredentialHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load ledger record: %w", err)
	}
	if exp.Valid {
		rec.ExpirationDate = &exp.Time
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.IndexedAttributes); err != nil {
			return nil, fmt.Errorf("unmarshal indexed attributes: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status_list_credential_id, status_list_index, status_purpose
		FROM ledger_status_details
		WHERE credential_id = $1
	`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("load status details: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d       StatusDetail
			purpose string
		)
		if err := rows.Scan(&d.StatusListCredentialID, &d.StatusListIndex, &purpose); err != nil {
			return nil, fmt.Errorf("scan status detail: %w", err)
		}
		d.StatusPurpose = credential.StatusPurpose(purpose)
		rec.StatusDetails = append(rec.StatusDetails, d)
	}
	return &rec, rows.Err()
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, txn *Transaction) error {
	createdAt := txn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO status_transactions (credential_id, status_list_credential_id, status_list_index, status_purpose, status_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, txn.CredentialID, txn.StatusListCredentialID, txn.StatusListIndex, string(txn.StatusPurpose), txn.StatusValue, createdAt).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append status transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) TransactionsSince(ctx context.Context, since time.Time, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credential_id, status_list_credential_id, status_list_index, status_purpose, status_value, created_at
		FROM status_transactions
		WHERE created_at > $1
		ORDER BY created_at, id
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions since: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// LatestStatusPerIndex uses DISTINCT ON to pick the newest transaction per
// index; ties on created_at break on the monotonic id.
func (s *PostgresStore) LatestStatusPerIndex(ctx context.Context, listID string) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (status_list_index) status_list_index, status_value
		FROM status_transactions
		WHERE status_list_credential_id = $1
		ORDER BY status_list_index, created_at DESC, id DESC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("latest status per index: %w", err)
	}
	defer rows.Close()

	latest := make(map[int64]bool)
	for rows.Next() {
		var (
			index int64
			value bool
		)
		if err := rows.Scan(&index, &value); err != nil {
			return nil, fmt.Errorf("scan latest status: %w", err)
		}
		latest[index] = value
	}
	return latest, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]Transaction, error) {
	var txns []Transaction
	for rows.Next() {
		var (
			t       Transaction
			purpose string
		)
		if err := rows.Scan(&t.ID, &t.CredentialID, &t.StatusListCredentialID, &t.StatusListIndex, &purpose, &t.StatusValue, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status transaction: %w", err)
		}
		t.StatusPurpose = credential.StatusPurpose(purpose)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
