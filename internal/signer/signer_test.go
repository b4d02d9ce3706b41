package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-multibase"
	"github.com/piprate/json-gold/ld"
	"github.com/stretchr/testify/suite"
	"github.com/veraison/go-cose"

	"attest/internal/assembler"
	"attest/internal/credential"
	"attest/internal/signing"
	"attest/internal/statuslist"
	"attest/pkg/requestcontext"
)

// localLoader serves a minimal vocabulary for every context URL so
// canonicalization runs offline and deterministically.
type localLoader struct{}

func (localLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return &ld.RemoteDocument{
		DocumentURL: u,
		Document: map[string]any{
			"@context": map[string]any{"@vocab": "https://example.org/vocab#"},
		},
	}, nil
}

// =============================================================================
// Signer Test Suite
// =============================================================================

type SignerSuite struct {
	suite.Suite
	raw    *signing.LocalEd25519Signer
	pub    ed25519.PublicKey
	jsonld *JSONLDSigner
	now    time.Time
}

func TestSignerSuite(t *testing.T) {
	suite.Run(t, new(SignerSuite))
}

func (s *SignerSuite) SetupTest() {
	raw, pub, err := signing.GenerateLocalEd25519Signer()
	s.Require().NoError(err)
	s.raw = raw
	s.pub = pub
	s.jsonld = NewJSONLDSigner(raw, WithDocumentLoader(localLoader{}))
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *SignerSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *SignerSuite) meta(suite credential.CryptoSuite) credential.Metadata {
	return credential.Metadata{
		Format:             credential.FormatLDPVC,
		CryptoSuite:        suite,
		SignAlgorithm:      "EdDSA",
		VerificationMethod: "did:web:issuer.test#key-1",
	}
}

func (s *SignerSuite) unsignedDoc() string {
	return `{
		"@context": ["https://www.w3.org/ns/credentials/v2"],
		"id": "urn:uuid:cred-1",
		"type": ["VerifiableCredential", "TestCredential"],
		"issuer": "did:web:issuer.test",
		"validFrom": "2026-03-01T12:00:00Z",
		"credentialSubject": {"id": "did:example:holder", "given_name": "Ada"}
	}`
}

// recomputeDigest rebuilds the signing input from a signed document so the
// signature can be checked against the issuer key.
func (s *SignerSuite) recomputeDigest(doc map[string]any, suiteContext string) []byte {
	proof := doc["proof"].(map[string]any)

	options := map[string]any{
		"@context":           suiteContext,
		"type":               proof["type"],
		"created":            proof["created"],
		"verificationMethod": proof["verificationMethod"],
		"proofPurpose":       proof["proofPurpose"],
	}

	bare := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "proof" {
			bare[k] = v
		}
	}

	docHash, err := s.jsonld.canonicalHash(bare)
	s.Require().NoError(err)
	proofHash, err := s.jsonld.canonicalHash(options)
	s.Require().NoError(err)
	return append(proofHash, docHash...)
}

// =============================================================================
// JSON-LD Data Integrity Tests
// =============================================================================

func (s *SignerSuite) TestJSONLDEd25519Signature2020() {
	out, err := s.jsonld.SignCredential(s.ctx(), s.unsignedDoc(), s.meta(credential.SuiteEd255192020))
	s.Require().NoError(err)

	var doc map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &doc))

	s.Run("proof block is complete", func() {
		proof := doc["proof"].(map[string]any)
		s.Equal("Ed25519Signature2020", proof["type"])
		s.Equal("assertionMethod", proof["proofPurpose"])
		s.Equal("did:web:issuer.test#key-1", proof["verificationMethod"])
		s.Equal("2026-03-01T12:00:00Z", proof["created"])
		s.NotContains(proof, "jws")
	})

	s.Run("suite context is appended to the document", func() {
		s.Contains(doc["@context"], ed25519Suite2020Context)
	})

	s.Run("proofValue is multibase base58btc and verifies", func() {
		proofValue := doc["proof"].(map[string]any)["proofValue"].(string)
		s.True(strings.HasPrefix(proofValue, "z"))

		encoding, sig, err := multibase.Decode(proofValue)
		s.Require().NoError(err)
		s.EqualValues(multibase.Base58BTC, encoding)
		s.Len(sig, ed25519.SignatureSize)

		digest := s.recomputeDigest(doc, ed25519Suite2020Context)
		s.True(ed25519.Verify(s.pub, digest, sig))
	})
}

func (s *SignerSuite) TestJSONLDDetachedJWS() {
	out, err := s.jsonld.SignCredential(s.ctx(), s.unsignedDoc(), s.meta(credential.SuiteECDSAR1))
	s.Require().NoError(err)

	var doc map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &doc))

	s.Run("non-2020 suites carry a detached jws", func() {
		proof := doc["proof"].(map[string]any)
		s.Equal("JsonWebSignature2020", proof["type"])
		s.NotContains(proof, "proofValue")

		jws := proof["jws"].(string)
		parts := strings.Split(jws, ".")
		s.Require().Len(parts, 3)
		s.Empty(parts[1])

		headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
		s.Require().NoError(err)
		var header map[string]any
		s.Require().NoError(json.Unmarshal(headerJSON, &header))
		s.Equal("EdDSA", header["alg"])
		s.Equal(false, header["b64"])

		sig, err := base64.RawURLEncoding.DecodeString(parts[2])
		s.Require().NoError(err)

		digest := s.recomputeDigest(doc, jws2020Context)
		input := append([]byte(parts[0]+"."), digest...)
		s.True(ed25519.Verify(s.pub, input, sig))
	})
}

func (s *SignerSuite) TestJSONLDRejectsGarbage() {
	_, err := s.jsonld.SignCredential(s.ctx(), "not json", s.meta(credential.SuiteEd255192020))
	s.Error(err)
}

// =============================================================================
// SD-JWT Signing Tests
// =============================================================================

func (s *SignerSuite) TestSDJWT() {
	sdjwt := NewSDJWTSigner(s.raw)
	meta := credential.Metadata{Format: credential.FormatSDJWT, SignAlgorithm: "EdDSA"}

	s.Run("appends the signature before the disclosures", func() {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA","typ":"vc+sd-jwt"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"did:web:issuer.test"}`))
		unsigned := header + "." + payload + "~disclosure-1~"

		out, err := sdjwt.SignCredential(s.ctx(), unsigned, meta)
		s.Require().NoError(err)
		s.True(strings.HasSuffix(out, "~disclosure-1~"))

		jwtPart := strings.SplitN(out, "~", 2)[0]
		parts := strings.Split(jwtPart, ".")
		s.Require().Len(parts, 3)

		sig, err := base64.RawURLEncoding.DecodeString(parts[2])
		s.Require().NoError(err)
		s.True(ed25519.Verify(s.pub, []byte(parts[0]+"."+parts[1]), sig))
	})

	s.Run("input without a tilde is rejected", func() {
		_, err := sdjwt.SignCredential(s.ctx(), "a.b", meta)
		s.Error(err)
	})

	s.Run("input that is not header.payload is rejected", func() {
		_, err := sdjwt.SignCredential(s.ctx(), "a.b.c~", meta)
		s.Error(err)
	})
}

// =============================================================================
// mdoc Signing Tests
// =============================================================================

func (s *SignerSuite) TestMdoc() {
	mdoc := NewMdocSigner(s.raw)
	meta := credential.Metadata{
		Format:         credential.FormatMsoMdoc,
		CredentialType: "org.iso.18013.5.1.mDL",
		DocType:        "org.iso.18013.5.1.mDL",
		SignAlgorithm:  "EdDSA",
	}

	s.Run("issuerAuth verifies over the tagged mso", func() {
		unsigned, err := assembler.NewMsoMdocAssembler().CreateCredential(s.ctx(), assembler.Input{
			CredentialID: "cred-1",
			IssuerID:     "did:web:issuer.test",
			HolderID:     "did:example:holder",
			Claims:       map[string]any{"family_name": "Lovelace"},
			Metadata:     meta,
			IssuedAt:     s.now,
		})
		s.Require().NoError(err)

		out, err := mdoc.SignCredential(s.ctx(), unsigned, meta)
		s.Require().NoError(err)

		raw, err := base64.RawURLEncoding.DecodeString(out)
		s.Require().NoError(err)
		var signed issuerSigned
		s.Require().NoError(cbor.Unmarshal(raw, &signed))
		s.Len(signed.NameSpaces["org.iso.18013.5.1.mDL"], 1)

		var msg cose.Sign1Message
		s.Require().NoError(msg.UnmarshalCBOR(signed.IssuerAuth))

		verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, s.pub)
		s.Require().NoError(err)
		s.NoError(msg.Verify(nil, verifier))

		var tag cbor.Tag
		s.Require().NoError(cbor.Unmarshal(msg.Payload, &tag))
		s.Equal(uint64(24), tag.Number)
	})

	s.Run("unsupported algorithm is rejected", func() {
		bad := meta
		bad.SignAlgorithm = "RS256"
		_, err := mdoc.SignCredential(s.ctx(), "AA", bad)
		s.Error(err)
	})
}

// =============================================================================
// Status List Credential Builder Tests
// =============================================================================

func (s *SignerSuite) TestStatusListBuilder() {
	builder := NewStatusListBuilder(s.jsonld, "https://issuer.test/status-lists/", s.meta(credential.SuiteEd255192020))

	bits, err := statuslist.NewBitstring(statuslist.MinCapacityBits)
	s.Require().NoError(err)
	encoded, err := bits.Encode()
	s.Require().NoError(err)

	out, err := builder.BuildStatusListCredential(s.ctx(), &statuslist.List{
		ID:            "list-1",
		IssuerID:      "did:web:issuer.test",
		StatusPurpose: credential.PurposeRevocation,
		EncodedList:   encoded,
	})
	s.Require().NoError(err)

	var doc map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &doc))

	s.Run("document shape follows the bitstring status list vocabulary", func() {
		s.Equal("https://issuer.test/status-lists/list-1", doc["id"])
		s.Contains(doc["type"], "BitstringStatusListCredential")

		subject := doc["credentialSubject"].(map[string]any)
		s.Equal("https://issuer.test/status-lists/list-1#list", subject["id"])
		s.Equal("BitstringStatusList", subject["type"])
		s.Equal("revocation", subject["statusPurpose"])
		s.Equal(encoded, subject["encodedList"])
	})

	s.Run("the embedded proof verifies", func() {
		proofValue := doc["proof"].(map[string]any)["proofValue"].(string)
		_, sig, err := multibase.Decode(proofValue)
		s.Require().NoError(err)
		digest := s.recomputeDigest(doc, ed25519Suite2020Context)
		s.True(ed25519.Verify(s.pub, digest, sig))
	})
}
