package proof

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// publicKeyFromJWK builds a verification key from an embedded JWK map.
// Supported key types: EC P-256/P-384/P-521, OKP Ed25519, RSA.
func publicKeyFromJWK(jwk map[string]any) (crypto.PublicKey, error) {
	kty, _ := jwk["kty"].(string)
	switch kty {
	case "EC":
		crv, _ := jwk["crv"].(string)
		var curve elliptic.Curve
		switch crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported EC curve %q", crv)
		}
		x, err := jwkBigInt(jwk, "x")
		if err != nil {
			return nil, err
		}
		y, err := jwkBigInt(jwk, "y")
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	case "OKP":
		if crv, _ := jwk["crv"].(string); crv != "Ed25519" {
			return nil, fmt.Errorf("unsupported OKP curve %q", crv)
		}
		raw, err := jwkBytes(jwk, "x")
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		return ed25519.PublicKey(raw), nil

	case "RSA":
		n, err := jwkBigInt(jwk, "n")
		if err != nil {
			return nil, err
		}
		e, err := jwkBigInt(jwk, "e")
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	}
	return nil, fmt.Errorf("unsupported JWK key type %q", kty)
}

// jwkThumbprint computes the RFC 7638 SHA-256 thumbprint of the JWK,
// base64url-encoded. Used as the holder identifier when the proof carries no
// kid DID URL.
func jwkThumbprint(jwk map[string]any) (string, error) {
	kty, _ := jwk["kty"].(string)
	var canonical string
	switch kty {
	case "EC":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`, jwk["crv"], jwk["x"], jwk["y"])
	case "OKP":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"OKP","x":%q}`, jwk["crv"], jwk["x"])
	case "RSA":
		canonical = fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, jwk["e"], jwk["n"])
	default:
		return "", fmt.Errorf("unsupported JWK key type %q", kty)
	}
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func jwkBytes(jwk map[string]any, member string) ([]byte, error) {
	s, ok := jwk[member].(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("JWK member %q missing", member)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode JWK member %q: %w", member, err)
	}
	return raw, nil
}

func jwkBigInt(jwk map[string]any, member string) (*big.Int, error) {
	raw, err := jwkBytes(jwk, member)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
