// Package signer applies format-specific signatures to assembled credential
// bodies. Raw signature bytes come from the signing collaborator; this
// package owns canonicalization, signing input construction, and proof
// packaging per format.
package signer

import (
	"context"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
)

// Strategy signs the unsigned body of one format and returns the final
// credential artifact in that format's wire encoding.
type Strategy interface {
	Format() credential.Format
	SignCredential(ctx context.Context, unsigned string, meta credential.Metadata) (string, error)
}

// Registry dispatches to the strategy registered for a format.
type Registry struct {
	strategies map[credential.Format]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[credential.Format]Strategy)}
	for _, s := range strategies {
		r.strategies[s.Format()] = s
	}
	return r
}

func (r *Registry) SignCredential(ctx context.Context, unsigned string, meta credential.Metadata) (string, error) {
	s, ok := r.strategies[meta.Format]
	if !ok {
		return "", derrors.Newf(derrors.CodeInvalidRequest, "unsupported credential format %s", meta.Format)
	}
	return s.SignCredential(ctx, unsigned, meta)
}

// signingFailed marks a fault in the signing path. These are fatal for the
// request; issuance never returns a half-signed credential.
func signingFailed(err error) error {
	return derrors.Wrap(err, derrors.CodeInternal, "vc signing failed")
}
