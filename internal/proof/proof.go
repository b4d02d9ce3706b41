// Package proof verifies client proof-of-possession objects submitted with
// credential requests. Validators are registered per proof container type at
// startup; no runtime discovery.
package proof

import (
	"context"
	"fmt"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
)

// Expectation carries the binding values a proof must match.
type Expectation struct {
	// ClientID the proof's iss must equal; empty for public clients, in which
	// case iss may be absent.
	ClientID string
	// Audience is the issuer identifier the proof must be addressed to.
	Audience string
	// Nonce is the validated c_nonce the proof must embed.
	Nonce string
	// SupportedAlgs restricts acceptable signing algorithms; empty means any.
	SupportedAlgs []string
}

// Validator verifies one proof container type.
type Validator interface {
	Type() credential.ProofType

	// Nonce extracts the embedded anti-replay challenge without verifying the
	// signature, so the caller can run the nonce lifecycle check first.
	Nonce(p credential.Proof) (string, error)

	// Validate verifies the proof signature and its binding claims.
	// Any failure is an invalid_proof domain error.
	Validate(ctx context.Context, p credential.Proof, expect Expectation) error

	// KeyMaterial returns the holder's key identifier (a DID URL from the kid
	// header, or the RFC 7638 thumbprint of the embedded key).
	KeyMaterial(p credential.Proof) (string, error)
}

// Registry dispatches to the validator registered for a proof type.
type Registry struct {
	validators map[credential.ProofType]Validator
}

// NewRegistry builds a registry over the given validators.
func NewRegistry(validators ...Validator) *Registry {
	r := &Registry{validators: make(map[credential.ProofType]Validator)}
	for _, v := range validators {
		r.validators[v.Type()] = v
	}
	return r
}

func (r *Registry) forProof(p *credential.Proof, meta credential.Metadata) (Validator, error) {
	if p == nil {
		return nil, derrors.New(derrors.CodeInvalidProof, "proof is required")
	}
	if !meta.SupportsProofType(p.ProofType) {
		return nil, derrors.Newf(derrors.CodeInvalidProof, "proof type %s not supported for this credential configuration", p.ProofType)
	}
	v, ok := r.validators[p.ProofType]
	if !ok {
		return nil, derrors.Newf(derrors.CodeInvalidProof, "no validator for proof type %s", p.ProofType)
	}
	return v, nil
}

// Nonce extracts the nonce embedded in the proof.
func (r *Registry) Nonce(p *credential.Proof, meta credential.Metadata) (string, error) {
	v, err := r.forProof(p, meta)
	if err != nil {
		return "", err
	}
	n, err := v.Nonce(*p)
	if err != nil {
		return "", derrors.Wrap(err, derrors.CodeInvalidProof, "extract proof nonce")
	}
	return n, nil
}

// Validate verifies the proof against the expectation.
func (r *Registry) Validate(ctx context.Context, p *credential.Proof, meta credential.Metadata, expect Expectation) error {
	v, err := r.forProof(p, meta)
	if err != nil {
		return err
	}
	return v.Validate(ctx, *p, expect)
}

// KeyMaterial returns the holder identifier bound by the proof.
func (r *Registry) KeyMaterial(p *credential.Proof, meta credential.Metadata) (string, error) {
	v, err := r.forProof(p, meta)
	if err != nil {
		return "", err
	}
	holder, err := v.KeyMaterial(*p)
	if err != nil {
		return "", derrors.Wrap(err, derrors.CodeInvalidProof, "extract holder key material")
	}
	if holder == "" {
		return "", derrors.New(derrors.CodeInvalidProof, "proof carries no holder key material")
	}
	return holder, nil
}

func invalidf(format string, args ...any) error {
	return derrors.New(derrors.CodeInvalidProof, fmt.Sprintf(format, args...))
}
