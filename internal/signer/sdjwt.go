package signer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"attest/internal/credential"
)

// SDJWTSigner signs the JWT portion of an assembled SD-JWT. Everything before
// the first tilde is the signing input; the disclosures travel unchanged.
type SDJWTSigner struct {
	signer Signer
}

func NewSDJWTSigner(signer Signer) *SDJWTSigner { return &SDJWTSigner{signer: signer} }

func (s *SDJWTSigner) Format() credential.Format { return credential.FormatSDJWT }

func (s *SDJWTSigner) SignCredential(ctx context.Context, unsigned string, meta credential.Metadata) (string, error) {
	idx := strings.Index(unsigned, "~")
	if idx < 0 {
		return "", signingFailed(fmt.Errorf("unsigned sd-jwt carries no disclosure separator"))
	}
	jwtPart, rest := unsigned[:idx], unsigned[idx:]
	if strings.Count(jwtPart, ".") != 1 {
		return "", signingFailed(fmt.Errorf("unsigned sd-jwt is not header.payload"))
	}

	sig, err := s.signer.Sign(ctx, []byte(jwtPart), meta.SignAlgorithm)
	if err != nil {
		return "", signingFailed(err)
	}
	return jwtPart + "." + base64.RawURLEncoding.EncodeToString(sig) + rest, nil
}
