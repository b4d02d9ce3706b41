package proof

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
)

// CWT claim keys and header labels used by cwt proofs.
const (
	cwtClaimIss   = int64(1)
	cwtClaimAud   = int64(3)
	cwtClaimNonce = int64(10)

	coseKeyHeaderLabel = "COSE_Key"
)

// COSE key map labels (RFC 9052/9053).
const (
	coseKeyKty = int64(1)
	coseKeyCrv = int64(-1)
	coseKeyX   = int64(-2)
	coseKeyY   = int64(-3)

	coseKtyOKP = int64(1)
	coseKtyEC2 = int64(2)

	coseCrvP256    = int64(1)
	coseCrvEd25519 = int64(6)
)

// CWTValidator verifies cwt (COSE_Sign1) proof-of-possession objects.
// The holder key travels as a COSE_Key in the protected header.
type CWTValidator struct{}

func NewCWTValidator() *CWTValidator { return &CWTValidator{} }

func (v *CWTValidator) Type() credential.ProofType { return credential.ProofTypeCWT }

func (v *CWTValidator) decode(p credential.Proof) (*cose.Sign1Message, map[any]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(p.CWT)
	if err != nil {
		return nil, nil, invalidf("proof cwt is not base64url: %v", err)
	}
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, nil, invalidf("proof cwt is not a COSE_Sign1 message: %v", err)
	}
	claims := make(map[any]any)
	if err := cbor.Unmarshal(msg.Payload, &claims); err != nil {
		return nil, nil, invalidf("proof cwt payload is not a claims map: %v", err)
	}
	return &msg, claims, nil
}

func (v *CWTValidator) Nonce(p credential.Proof) (string, error) {
	_, claims, err := v.decode(p)
	if err != nil {
		return "", err
	}
	n := cwtStringClaim(claims, cwtClaimNonce)
	if n == "" {
		return "", invalidf("proof cwt carries no nonce claim")
	}
	return n, nil
}

func (v *CWTValidator) Validate(_ context.Context, p credential.Proof, expect Expectation) error {
	msg, claims, err := v.decode(p)
	if err != nil {
		return err
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInvalidProof, "proof cwt declares no algorithm")
	}

	pub, err := v.holderKey(msg)
	if err != nil {
		return err
	}
	verifier, err := cose.NewVerifier(alg, pub)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInvalidProof, "build cwt verifier")
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return derrors.Wrap(err, derrors.CodeInvalidProof, "proof cwt signature verification failed")
	}

	if aud := cwtStringClaim(claims, cwtClaimAud); aud != expect.Audience {
		return derrors.New(derrors.CodeInvalidProof, "proof cwt aud does not match issuer")
	}
	if iss := cwtStringClaim(claims, cwtClaimIss); iss != "" && expect.ClientID != "" && iss != expect.ClientID {
		return derrors.New(derrors.CodeInvalidProof, "proof cwt iss does not match client_id")
	}
	if n := cwtStringClaim(claims, cwtClaimNonce); n != expect.Nonce {
		return derrors.New(derrors.CodeInvalidProof, "proof cwt nonce does not match c_nonce")
	}
	return nil
}

func (v *CWTValidator) KeyMaterial(p credential.Proof) (string, error) {
	msg, _, err := v.decode(p)
	if err != nil {
		return "", err
	}
	raw, err := v.rawHolderKey(msg)
	if err != nil {
		return "", err
	}
	// No JOSE thumbprint exists for COSE keys; hash the canonical CBOR bytes.
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func (v *CWTValidator) rawHolderKey(msg *cose.Sign1Message) ([]byte, error) {
	for _, headers := range []map[any]any{msg.Headers.Protected, msg.Headers.Unprotected} {
		if raw, ok := headers[coseKeyHeaderLabel].([]byte); ok {
			return raw, nil
		}
	}
	return nil, invalidf("proof cwt carries no COSE_Key header")
}

func (v *CWTValidator) holderKey(msg *cose.Sign1Message) (crypto.PublicKey, error) {
	raw, err := v.rawHolderKey(msg)
	if err != nil {
		return nil, err
	}
	keyMap := make(map[int64]any)
	if err := cbor.Unmarshal(raw, &keyMap); err != nil {
		return nil, invalidf("proof cwt COSE_Key is not a key map: %v", err)
	}

	kty, _ := asInt64(keyMap[coseKeyKty])
	switch kty {
	case coseKtyEC2:
		if crv, _ := asInt64(keyMap[coseKeyCrv]); crv != coseCrvP256 {
			return nil, invalidf("unsupported COSE EC2 curve %d", crv)
		}
		x, xok := keyMap[coseKeyX].([]byte)
		y, yok := keyMap[coseKeyY].([]byte)
		if !xok || !yok {
			return nil, invalidf("COSE EC2 key missing coordinates")
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	case coseKtyOKP:
		if crv, _ := asInt64(keyMap[coseKeyCrv]); crv != coseCrvEd25519 {
			return nil, invalidf("unsupported COSE OKP curve")
		}
		x, ok := keyMap[coseKeyX].([]byte)
		if !ok || len(x) != ed25519.PublicKeySize {
			return nil, invalidf("COSE OKP key has no valid public key bytes")
		}
		return ed25519.PublicKey(x), nil
	}
	return nil, invalidf("unsupported COSE key type %d", kty)
}

func cwtStringClaim(claims map[any]any, key int64) string {
	for k, v := range claims {
		kk, ok := asInt64(k)
		if !ok || kk != key {
			continue
		}
		switch s := v.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		}
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}
