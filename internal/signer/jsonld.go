package signer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/multiformats/go-multibase"
	"github.com/piprate/json-gold/ld"

	"attest/internal/credential"
	"attest/pkg/requestcontext"
)

const (
	ed25519Suite2020Context = "https://w3id.org/security/suites/ed25519-2020/v1"
	jws2020Context          = "https://w3id.org/security/suites/jws-2020/v1"
)

// JSONLDSigner embeds a Data Integrity proof into a JSON-LD credential
// document. Both the document and the proof options are canonicalized with
// URDNA2015 and hashed; the signature covers proofOptionsHash || documentHash.
type JSONLDSigner struct {
	signer Signer
	loader ld.DocumentLoader
}

// Signer is the raw-signature collaborator; satisfied by the signing package.
type Signer interface {
	Sign(ctx context.Context, payload []byte, alg string) ([]byte, error)
}

type JSONLDOption func(*JSONLDSigner)

// WithDocumentLoader overrides the JSON-LD context loader. Tests use a local
// loader so canonicalization never touches the network.
func WithDocumentLoader(loader ld.DocumentLoader) JSONLDOption {
	return func(s *JSONLDSigner) { s.loader = loader }
}

func NewJSONLDSigner(signer Signer, opts ...JSONLDOption) *JSONLDSigner {
	s := &JSONLDSigner{signer: signer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JSONLDSigner) Format() credential.Format { return credential.FormatLDPVC }

func (s *JSONLDSigner) SignCredential(ctx context.Context, unsigned string, meta credential.Metadata) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(unsigned), &doc); err != nil {
		return "", signingFailed(fmt.Errorf("unsigned credential is not valid JSON: %w", err))
	}
	signed, err := s.signDocument(ctx, doc, meta)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(signed)
	if err != nil {
		return "", signingFailed(err)
	}
	return string(raw), nil
}

// signDocument adds the embedded proof to doc and returns it. Shared with the
// status list credential builder, which signs documents it constructs itself.
func (s *JSONLDSigner) signDocument(ctx context.Context, doc map[string]any, meta credential.Metadata) (map[string]any, error) {
	suite := meta.CryptoSuite
	if suite == "" {
		suite = credential.SuiteEd255192020
	}

	suiteContext := jws2020Context
	if suite == credential.SuiteEd255192020 {
		suiteContext = ed25519Suite2020Context
	}
	doc["@context"] = appendContext(doc["@context"], suiteContext)

	proof := map[string]any{
		"@context":           suiteContext,
		"type":               string(suite),
		"created":            requestcontext.Now(ctx).UTC().Format(time.RFC3339),
		"verificationMethod": meta.VerificationMethod,
		"proofPurpose":       "assertionMethod",
	}

	docHash, err := s.canonicalHash(doc)
	if err != nil {
		return nil, signingFailed(fmt.Errorf("canonicalize credential: %w", err))
	}
	proofHash, err := s.canonicalHash(proof)
	if err != nil {
		return nil, signingFailed(fmt.Errorf("canonicalize proof options: %w", err))
	}
	digest := append(proofHash, docHash...)

	alg := meta.SignAlgorithm
	if alg == "" {
		alg = "EdDSA"
	}

	if suite == credential.SuiteEd255192020 {
		sig, err := s.signer.Sign(ctx, digest, alg)
		if err != nil {
			return nil, signingFailed(err)
		}
		proofValue, err := multibase.Encode(multibase.Base58BTC, sig)
		if err != nil {
			return nil, signingFailed(err)
		}
		proof["proofValue"] = proofValue
	} else {
		// Detached JWS with unencoded payload (RFC 7797).
		header := fmt.Sprintf(`{"alg":%q,"b64":false,"crit":["b64"]}`, alg)
		headerB64 := base64.RawURLEncoding.EncodeToString([]byte(header))
		input := append([]byte(headerB64+"."), digest...)
		sig, err := s.signer.Sign(ctx, input, alg)
		if err != nil {
			return nil, signingFailed(err)
		}
		proof["jws"] = headerB64 + ".." + base64.RawURLEncoding.EncodeToString(sig)
	}

	delete(proof, "@context")
	doc["proof"] = proof
	return doc, nil
}

// canonicalHash runs URDNA2015 over the document and hashes the resulting
// n-quads.
func (s *JSONLDSigner) canonicalHash(doc map[string]any) ([]byte, error) {
	opts := ld.NewJsonLdOptions("")
	opts.Algorithm = ld.AlgorithmURDNA2015
	opts.Format = "application/n-quads"
	if s.loader != nil {
		opts.DocumentLoader = s.loader
	}
	normalized, err := ld.NewJsonLdProcessor().Normalize(doc, opts)
	if err != nil {
		return nil, err
	}
	nquads, ok := normalized.(string)
	if !ok {
		return nil, fmt.Errorf("canonicalization produced %T, want string", normalized)
	}
	sum := sha256.Sum256([]byte(nquads))
	return sum[:], nil
}

func appendContext(existing any, uri string) any {
	switch ctxs := existing.(type) {
	case []any:
		for _, c := range ctxs {
			if c == uri {
				return ctxs
			}
		}
		return append(ctxs, uri)
	case string:
		if ctxs == uri {
			return ctxs
		}
		return []any{ctxs, uri}
	case nil:
		return []any{uri}
	}
	return existing
}
