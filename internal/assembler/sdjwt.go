package assembler

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"attest/internal/credential"
)

const sdJWTHeaderType = "vc+sd-jwt"

// SDJWTAssembler builds an unsigned SD-JWT: the JOSE header and payload
// followed by the selective-disclosure strings, tilde-separated. The signer
// signs everything before the first tilde.
type SDJWTAssembler struct{}

func NewSDJWTAssembler() *SDJWTAssembler { return &SDJWTAssembler{} }

func (a *SDJWTAssembler) Format() credential.Format { return credential.FormatSDJWT }

func (a *SDJWTAssembler) CreateCredential(_ context.Context, in Input) (string, error) {
	subject, err := renderSubject(in)
	if err != nil {
		return "", creationFailed(err)
	}

	disclosable := make(map[string]bool, len(in.Metadata.DisclosablePaths))
	for _, path := range in.Metadata.DisclosablePaths {
		disclosable[path] = true
	}

	payload := map[string]any{
		"iss": in.IssuerID,
		"iat": in.IssuedAt.Unix(),
		"jti": "urn:uuid:" + in.CredentialID,
		"vct": in.Metadata.CredentialType,
	}
	if in.Metadata.ValiditySeconds > 0 {
		payload["exp"] = in.IssuedAt.Add(time.Duration(in.Metadata.ValiditySeconds) * time.Second).Unix()
	}
	if in.HolderID != "" {
		payload["sub"] = in.HolderID
	}
	if status := statusDocument(in.Statuses); status != nil {
		payload["status"] = status
	}

	var digests []string
	var disclosures []string
	for name, value := range subject {
		if !disclosable[name] {
			payload[name] = value
			continue
		}
		disclosure, digest, err := makeDisclosure(name, value)
		if err != nil {
			return "", creationFailed(err)
		}
		disclosures = append(disclosures, disclosure)
		digests = append(digests, digest)
	}
	if len(digests) > 0 {
		payload["_sd"] = digests
		payload["_sd_alg"] = "sha-256"
	}

	header := map[string]any{
		"alg": in.Metadata.SignAlgorithm,
		"typ": sdJWTHeaderType,
	}
	if in.Metadata.VerificationMethod != "" {
		header["kid"] = in.Metadata.VerificationMethod
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", creationFailed(err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", creationFailed(err)
	}

	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	for _, d := range disclosures {
		unsigned += "~" + d
	}
	// Trailing tilde: issuance without a key-binding JWT.
	return unsigned + "~", nil
}

// makeDisclosure builds one [salt, name, value] disclosure and its _sd digest.
func makeDisclosure(name string, value any) (disclosure, digest string, err error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate disclosure salt: %w", err)
	}
	raw, err := json.Marshal([]any{base64.RawURLEncoding.EncodeToString(salt), name, value})
	if err != nil {
		return "", "", fmt.Errorf("encode disclosure %q: %w", name, err)
	}
	disclosure = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(disclosure))
	return disclosure, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
