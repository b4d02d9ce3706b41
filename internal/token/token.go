// Package token validates bearer access tokens against the external OAuth
// authorization server. The issuer never mints access tokens itself; it only
// checks what the authorization server says about them.
package token

import (
	"context"
	"time"

	"attest/internal/credential"
)

// Verifier turns a raw bearer token into a validated AccessToken.
// Implementations must set Active=false rather than erroring for tokens that
// are merely expired or revoked; errors are reserved for verification faults.
type Verifier interface {
	Verify(ctx context.Context, raw string) (credential.AccessToken, error)
}

// StaticVerifier accepts a fixed token->AccessToken table. Used in tests and
// local development where no authorization server runs.
type StaticVerifier struct {
	tokens map[string]credential.AccessToken
}

func NewStaticVerifier(tokens ...credential.AccessToken) *StaticVerifier {
	v := &StaticVerifier{tokens: make(map[string]credential.AccessToken, len(tokens))}
	for _, t := range tokens {
		v.tokens[t.Raw] = t
	}
	return v
}

func (v *StaticVerifier) Verify(_ context.Context, raw string) (credential.AccessToken, error) {
	t, ok := v.tokens[raw]
	if !ok {
		return credential.AccessToken{Raw: raw, Active: false}, nil
	}
	if !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt) {
		t.Active = false
	}
	return t, nil
}
