package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// LocalEd25519Signer signs in-process with an Ed25519 key. Intended for
// development and tests; production uses the HTTP signing service.
type LocalEd25519Signer struct {
	priv ed25519.PrivateKey
}

// NewLocalEd25519Signer wraps an existing key.
func NewLocalEd25519Signer(priv ed25519.PrivateKey) *LocalEd25519Signer {
	return &LocalEd25519Signer{priv: priv}
}

// GenerateLocalEd25519Signer creates a signer with a fresh key and returns
// the public half for verification-method construction.
func GenerateLocalEd25519Signer() (*LocalEd25519Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &LocalEd25519Signer{priv: priv}, pub, nil
}

func (s *LocalEd25519Signer) Sign(_ context.Context, payload []byte, alg string) ([]byte, error) {
	if alg != "" && alg != "EdDSA" {
		return nil, failed(fmt.Errorf("local signer supports EdDSA only, got %s", alg))
	}
	return ed25519.Sign(s.priv, payload), nil
}

// Public returns the verification key.
func (s *LocalEd25519Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}
