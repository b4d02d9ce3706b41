package ledger

import (
	"time"

	"attest/internal/credential"
)

// StatusDetail is the (list, index, purpose) triple assigned to a credential
// at issuance time. The snapshot is immutable; later status changes are
// derived from the transaction log, never by mutating this.
type StatusDetail struct {
	StatusListCredentialID string
	StatusListIndex        int64
	StatusPurpose          credential.StatusPurpose
}

// Record is one issued credential's ledger row, created once at issuance.
type Record struct {
	CredentialID   string
	IssuerID       string
	CredentialType string
	IssuanceDate   time.Time
	ExpirationDate *time.Time
	// IndexedAttributes are searchable claim values extracted at issuance
	// (e.g. subject identifiers) for audit and lookup.
	IndexedAttributes map[string]string
	// CredentialHash is the SHA-256 of the final signed credential, enabling
	// revocation by artifact hash.
	CredentialHash string
	StatusDetails  []StatusDetail
}

// Transaction is one append-only status change event. The bitstring is a
// materialized view over the latest transaction per (list, index); rows are
// never updated, and ordering by CreatedAt defines "latest wins".
type Transaction struct {
	ID                     int64
	CredentialID           string
	StatusListCredentialID string
	StatusListIndex        int64
	StatusPurpose          credential.StatusPurpose
	StatusValue            bool
	CreatedAt              time.Time
}
