// Package signing abstracts the key-management collaborator that produces raw
// signatures. Production deployments call the external signing service over
// HTTP; tests and local development use an in-process Ed25519 key.
package signing

import (
	"context"

	derrors "attest/pkg/domainerrors"
)

// Signer produces a raw signature over payload using the named JOSE/COSE
// algorithm. The key itself never leaves the signer.
type Signer interface {
	Sign(ctx context.Context, payload []byte, alg string) ([]byte, error)
}

// failed wraps any signing-layer fault as the fatal kind issuance reports.
func failed(err error) error {
	return derrors.Wrap(err, derrors.CodeInternal, "vc signing failed")
}
