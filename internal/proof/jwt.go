package proof

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
)

// proofJWTType is the required typ header of OpenID4VCI jwt proofs.
const proofJWTType = "openid4vci-proof+jwt"

// JWTValidator verifies jwt proof-of-possession objects. The verification key
// is the JWK embedded in the proof header; possession of that key is exactly
// what the proof demonstrates.
type JWTValidator struct{}

func NewJWTValidator() *JWTValidator { return &JWTValidator{} }

func (v *JWTValidator) Type() credential.ProofType { return credential.ProofTypeJWT }

func (v *JWTValidator) Nonce(p credential.Proof) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.JWT, claims); err != nil {
		return "", invalidf("malformed proof jwt: %v", err)
	}
	n, _ := claims["nonce"].(string)
	if n == "" {
		return "", invalidf("proof jwt carries no nonce claim")
	}
	return n, nil
}

func (v *JWTValidator) Validate(_ context.Context, p credential.Proof, expect Expectation) error {
	opts := []jwt.ParserOption{jwt.WithAudience(expect.Audience)}
	if len(expect.SupportedAlgs) > 0 {
		opts = append(opts, jwt.WithValidMethods(expect.SupportedAlgs))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(p.JWT, claims, func(token *jwt.Token) (any, error) {
		if typ, _ := token.Header["typ"].(string); typ != proofJWTType {
			return nil, invalidf("proof jwt typ must be %s", proofJWTType)
		}
		jwk, ok := token.Header["jwk"].(map[string]any)
		if !ok {
			return nil, invalidf("proof jwt header carries no jwk")
		}
		return publicKeyFromJWK(jwk)
	}, opts...)
	if err != nil {
		var de *derrors.Error
		if errors.As(err, &de) {
			return de
		}
		return derrors.Wrap(err, derrors.CodeInvalidProof, "proof jwt verification failed")
	}
	if !token.Valid {
		return derrors.New(derrors.CodeInvalidProof, "proof jwt is not valid")
	}

	// iss must equal the requesting client_id; public clients may omit it.
	if iss, _ := claims["iss"].(string); iss != "" && expect.ClientID != "" && iss != expect.ClientID {
		return derrors.New(derrors.CodeInvalidProof, "proof jwt iss does not match client_id")
	}

	if n, _ := claims["nonce"].(string); n != expect.Nonce {
		return derrors.New(derrors.CodeInvalidProof, "proof jwt nonce does not match c_nonce")
	}
	return nil
}

func (v *JWTValidator) KeyMaterial(p credential.Proof) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(p.JWT, jwt.MapClaims{})
	if err != nil {
		return "", invalidf("malformed proof jwt: %v", err)
	}
	if kid, _ := token.Header["kid"].(string); strings.HasPrefix(kid, "did:") {
		return kid, nil
	}
	jwk, ok := token.Header["jwk"].(map[string]any)
	if !ok {
		return "", invalidf("proof jwt header carries neither did kid nor jwk")
	}
	return jwkThumbprint(jwk)
}
