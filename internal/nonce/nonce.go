// Package nonce issues and validates the single c_nonce anti-replay challenge
// bound to an access-token identity.
package nonce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attest/pkg/requestcontext"
	"attest/pkg/sentinel"
)

// Record is one live nonce for a token identity. A token identity has at most
// one record; issuing again overwrites it.
type Record struct {
	Nonce    string        `json:"nonce"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant the record stops being valid.
func (r Record) ExpiresAt() time.Time { return r.IssuedAt.Add(r.TTL) }

// Validation failures. Both are client-correctable: the caller reports a
// fresh nonce back to the client for retry.
var (
	ErrNonceExpired  = errors.New("nonce expired")
	ErrNonceMismatch = errors.New("nonce mismatch")
)

// Store persists nonce records keyed by token identity, with TTL eviction.
type Store interface {
	Put(ctx context.Context, tokenIdentity string, rec Record) error
	// Get returns the live record. Returns sentinel.ErrNotFound when absent
	// or already evicted.
	Get(ctx context.Context, tokenIdentity string) (Record, error)
}

// HashToken derives the nonce-store key from a raw access token. Only the
// hash is persisted so the cache never holds usable bearer tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Manager issues and validates c_nonce challenges.
//
// Validation deliberately does not consume the nonce: within its TTL the
// c_nonce acts as a short-lived session token, matching the OpenID4VCI
// treatment of c_nonce, rather than a strict single-use value. Tighten to
// single-use only if a stricter anti-replay contract is required.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(store Store, ttl time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("nonce store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("nonce ttl must be positive")
	}
	m := &Manager{store: store, ttl: ttl}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured nonce lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue generates a fresh cryptographically random nonce for the token
// identity, overwriting any prior record.
func (m *Manager) Issue(ctx context.Context, tokenIdentity string) (Record, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Record{}, fmt.Errorf("generate nonce: %w", err)
	}
	rec := Record{
		Nonce:    base64.RawURLEncoding.EncodeToString(raw),
		IssuedAt: requestcontext.Now(ctx),
		TTL:      m.ttl,
	}
	if err := m.store.Put(ctx, tokenIdentity, rec); err != nil {
		return Record{}, fmt.Errorf("persist nonce: %w", err)
	}
	return rec, nil
}

// Validate checks the supplied nonce against the live record for the token
// identity. Returns ErrNonceExpired past the TTL and ErrNonceMismatch when no
// record exists or the value differs.
func (m *Manager) Validate(ctx context.Context, tokenIdentity, supplied string) error {
	rec, err := m.store.Get(ctx, tokenIdentity)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ErrNonceMismatch
		}
		return fmt.Errorf("load nonce: %w", err)
	}
	if requestcontext.Now(ctx).After(rec.ExpiresAt()) {
		return ErrNonceExpired
	}
	if rec.Nonce != supplied {
		return ErrNonceMismatch
	}
	return nil
}
