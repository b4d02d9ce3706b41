// Package postgres owns the database handle and schema bootstrap.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the schema. Statements are idempotent so startup can run
// this unconditionally.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS status_lists (
			id TEXT PRIMARY KEY,
			issuer_id TEXT NOT NULL,
			status_purpose TEXT NOT NULL,
			capacity_bits BIGINT NOT NULL,
			encoded_list TEXT NOT NULL,
			state TEXT NOT NULL,
			vc_document TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_lists_available
			ON status_lists (status_purpose, created_at) WHERE state = 'AVAILABLE'`,

		`CREATE TABLE IF NOT EXISTS status_list_indices (
			list_id TEXT NOT NULL REFERENCES status_lists (id),
			idx BIGINT NOT NULL,
			is_assigned BOOLEAN NOT NULL DEFAULT FALSE,
			assigned_at TIMESTAMPTZ,
			PRIMARY KEY (list_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_list_indices_free
			ON status_list_indices (list_id, idx) WHERE NOT is_assigned`,

		`CREATE TABLE IF NOT EXISTS ledger_records (
			credential_id TEXT PRIMARY KEY,
			issuer_id TEXT NOT NULL,
			credential_type TEXT NOT NULL,
			issuance_date TIMESTAMPTZ NOT NULL,
			expiration_date TIMESTAMPTZ,
			indexed_attributes JSONB NOT NULL DEFAULT '{}',
			credential_hash TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_records_hash
			ON ledger_records (credential_hash)`,

		`CREATE TABLE IF NOT EXISTS ledger_status_details (
			credential_id TEXT NOT NULL REFERENCES ledger_records (credential_id),
			status_list_credential_id TEXT NOT NULL,
			status_list_index BIGINT NOT NULL,
			status_purpose TEXT NOT NULL,
			PRIMARY KEY (credential_id, status_list_credential_id, status_purpose)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_status_details_position
			ON ledger_status_details (status_list_credential_id, status_list_index, status_purpose)`,

		`CREATE TABLE IF NOT EXISTS status_transactions (
			id BIGSERIAL PRIMARY KEY,
			credential_id TEXT NOT NULL,
			status_list_credential_id TEXT NOT NULL,
			status_list_index BIGINT NOT NULL,
			status_purpose TEXT NOT NULL,
			status_value BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_transactions_created
			ON status_transactions (created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_status_transactions_list
			ON status_transactions (status_list_credential_id, status_list_index, created_at DESC, id DESC)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			category TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			details JSONB NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS consolidation_watermark (
			id INT PRIMARY KEY CHECK (id = 1),
			watermark TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS consolidation_leases (
			name TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL,
			held_until TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
