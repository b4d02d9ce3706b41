package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/suite"

	"attest/internal/credential"
)

// =============================================================================
// Assembler Test Suite
// =============================================================================

type AssemblerSuite struct {
	suite.Suite
	issuedAt time.Time
}

func TestAssemblerSuite(t *testing.T) {
	suite.Run(t, new(AssemblerSuite))
}

func (s *AssemblerSuite) SetupTest() {
	s.issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *AssemblerSuite) input(meta credential.Metadata) Input {
	return Input{
		CredentialID: "cred-1",
		IssuerID:     "did:web:issuer.test",
		HolderID:     "did:example:holder",
		Claims:       map[string]any{"given_name": "Ada", "family_name": "Lovelace"},
		Metadata:     meta,
		IssuedAt:     s.issuedAt,
	}
}

func (s *AssemblerSuite) statusEntry() credential.StatusEntry {
	return credential.StatusEntry{
		ID:                   "https://issuer.test/status-lists/list-1#42",
		Type:                 credential.StatusEntryType,
		StatusPurpose:        credential.PurposeRevocation,
		StatusListIndex:      "42",
		StatusListCredential: "https://issuer.test/status-lists/list-1",
	}
}

// =============================================================================
// Registry Tests
// =============================================================================

func (s *AssemblerSuite) TestRegistry() {
	registry := NewRegistry(NewJSONLDAssembler())

	s.Run("unknown format is rejected", func() {
		in := s.input(credential.Metadata{Format: credential.FormatSDJWT})
		_, err := registry.CreateCredential(context.Background(), in)
		s.Error(err)
	})

	s.Run("dispatches on the configuration format", func() {
		in := s.input(credential.Metadata{Format: credential.FormatLDPVC, CredentialType: "TestCredential"})
		out, err := registry.CreateCredential(context.Background(), in)
		s.NoError(err)
		s.Contains(out, "TestCredential")
	})
}

// =============================================================================
// JSON-LD Assembler Tests
// =============================================================================

func (s *AssemblerSuite) TestJSONLD() {
	a := NewJSONLDAssembler()

	s.Run("builds a W3C credential document", func() {
		meta := credential.Metadata{
			Format:          credential.FormatLDPVC,
			CredentialType:  "PersonCredential",
			ContextURIs:     []string{"https://example.org/contexts/person/v1"},
			ValiditySeconds: 3600,
		}
		in := s.input(meta)
		in.Statuses = []credential.StatusEntry{s.statusEntry()}

		out, err := a.CreateCredential(context.Background(), in)
		s.Require().NoError(err)

		var doc map[string]any
		s.Require().NoError(json.Unmarshal([]byte(out), &doc))

		s.Equal("urn:uuid:cred-1", doc["id"])
		s.Equal("did:web:issuer.test", doc["issuer"])
		s.Equal("2026-03-01T12:00:00Z", doc["validFrom"])
		s.Equal("2026-03-01T13:00:00Z", doc["validUntil"])

		contexts := doc["@context"].([]any)
		s.Equal("https://www.w3.org/ns/credentials/v2", contexts[0])
		s.Contains(contexts, "https://example.org/contexts/person/v1")

		types := doc["type"].([]any)
		s.Equal([]any{"VerifiableCredential", "PersonCredential"}, types)

		subject := doc["credentialSubject"].(map[string]any)
		s.Equal("Ada", subject["given_name"])
		s.Equal("did:example:holder", subject["id"])

		status := doc["credentialStatus"].(map[string]any)
		s.Equal("BitstringStatusListEntry", status["type"])
		s.Equal("42", status["statusListIndex"])
		s.Equal("https://issuer.test/status-lists/list-1", status["statusListCredential"])
	})

	s.Run("no status purposes means no credentialStatus", func() {
		in := s.input(credential.Metadata{Format: credential.FormatLDPVC, CredentialType: "T"})
		out, err := a.CreateCredential(context.Background(), in)
		s.Require().NoError(err)
		var doc map[string]any
		s.Require().NoError(json.Unmarshal([]byte(out), &doc))
		s.NotContains(doc, "credentialStatus")
		s.NotContains(doc, "validUntil")
	})

	s.Run("template substitution shapes the subject", func() {
		meta := credential.Metadata{
			Format:         credential.FormatLDPVC,
			CredentialType: "T",
			Template:       `{"name":{"given":"{{given_name}}","family":"{{family_name}}"}}`,
		}
		out, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Require().NoError(err)
		var doc map[string]any
		s.Require().NoError(json.Unmarshal([]byte(out), &doc))
		name := doc["credentialSubject"].(map[string]any)["name"].(map[string]any)
		s.Equal("Ada", name["given"])
		s.Equal("Lovelace", name["family"])
	})

	s.Run("schema violations abort assembly", func() {
		meta := credential.Metadata{
			Format:         credential.FormatLDPVC,
			CredentialType: "T",
			SchemaJSON:     `{"type":"object","required":["passport_number"]}`,
		}
		_, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Error(err)
		s.Contains(err.Error(), "credential creation failed")
	})
}

// =============================================================================
// SD-JWT Assembler Tests
// =============================================================================

func (s *AssemblerSuite) TestSDJWT() {
	a := NewSDJWTAssembler()

	meta := credential.Metadata{
		Format:           credential.FormatSDJWT,
		CredentialType:   "PersonCredential",
		SignAlgorithm:    "ES256",
		DisclosablePaths: []string{"given_name"},
		ValiditySeconds:  3600,
	}

	s.Run("produces header.payload plus disclosures", func() {
		out, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Require().NoError(err)
		s.True(strings.HasSuffix(out, "~"))

		segments := strings.Split(out, "~")
		jwtPart := segments[0]
		disclosures := segments[1 : len(segments)-1]
		s.Len(disclosures, 1)

		parts := strings.Split(jwtPart, ".")
		s.Require().Len(parts, 2)

		headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
		s.Require().NoError(err)
		var header map[string]any
		s.Require().NoError(json.Unmarshal(headerJSON, &header))
		s.Equal("ES256", header["alg"])
		s.Equal("vc+sd-jwt", header["typ"])

		payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
		s.Require().NoError(err)
		var payload map[string]any
		s.Require().NoError(json.Unmarshal(payloadJSON, &payload))
		s.Equal("did:web:issuer.test", payload["iss"])
		s.Equal("PersonCredential", payload["vct"])
		s.Equal("did:example:holder", payload["sub"])
		s.Equal("sha-256", payload["_sd_alg"])

		// Non-disclosable claims stay in the clear; disclosable ones do not.
		s.Equal("Lovelace", payload["family_name"])
		s.NotContains(payload, "given_name")

		// The disclosure digest is listed in _sd.
		sum := sha256.Sum256([]byte(disclosures[0]))
		digest := base64.RawURLEncoding.EncodeToString(sum[:])
		s.Contains(payload["_sd"], digest)

		// The disclosure decodes to [salt, name, value].
		raw, err := base64.RawURLEncoding.DecodeString(disclosures[0])
		s.Require().NoError(err)
		var parsed []any
		s.Require().NoError(json.Unmarshal(raw, &parsed))
		s.Require().Len(parsed, 3)
		s.Equal("given_name", parsed[1])
		s.Equal("Ada", parsed[2])
	})

	s.Run("salts make repeated runs diverge", func() {
		first, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Require().NoError(err)
		second, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Require().NoError(err)
		s.NotEqual(first, second)
	})
}

// =============================================================================
// mdoc Assembler Tests
// =============================================================================

func (s *AssemblerSuite) TestMsoMdoc() {
	a := NewMsoMdocAssembler()

	meta := credential.Metadata{
		Format:          credential.FormatMsoMdoc,
		CredentialType:  "org.iso.18013.5.1.mDL",
		DocType:         "org.iso.18013.5.1.mDL",
		ValiditySeconds: 86400,
	}

	s.Run("missing docType is rejected", func() {
		bad := meta
		bad.DocType = ""
		_, err := a.CreateCredential(context.Background(), s.input(bad))
		s.Error(err)
	})

	s.Run("digests in the MSO match the issuer-signed items", func() {
		out, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Require().NoError(err)

		raw, err := base64.RawURLEncoding.DecodeString(out)
		s.Require().NoError(err)
		var unsigned UnsignedMdoc
		s.Require().NoError(cbor.Unmarshal(raw, &unsigned))

		s.Equal("org.iso.18013.5.1.mDL", unsigned.DocType)
		items := unsigned.NameSpaces["org.iso.18013.5.1.mDL"]
		s.Len(items, 2)

		var mso mobileSecurityObject
		s.Require().NoError(cbor.Unmarshal(unsigned.MSO, &mso))
		s.Equal("1.0", mso.Version)
		s.Equal("SHA-256", mso.DigestAlgorithm)
		s.NotNil(mso.ValidityInfo.ValidUntil)

		digests := mso.ValueDigests["org.iso.18013.5.1.mDL"]
		s.Require().Len(digests, 2)
		for i, item := range items {
			sum := sha256.Sum256(item)
			s.Equal(sum[:], digests[uint64(i)])
		}
	})

	s.Run("the holder binds through deviceKeyInfo, not the namespace", func() {
		out, err := a.CreateCredential(context.Background(), s.input(meta))
		s.Require().NoError(err)

		raw, err := base64.RawURLEncoding.DecodeString(out)
		s.Require().NoError(err)
		var unsigned UnsignedMdoc
		s.Require().NoError(cbor.Unmarshal(raw, &unsigned))

		var names []string
		for _, item := range unsigned.NameSpaces["org.iso.18013.5.1.mDL"] {
			var tag cbor.Tag
			s.Require().NoError(cbor.Unmarshal(item, &tag))
			var parsed issuerSignedItem
			s.Require().NoError(cbor.Unmarshal(tag.Content.([]byte), &parsed))
			names = append(names, parsed.ElementIdentifier)
		}
		s.ElementsMatch([]string{"family_name", "given_name"}, names)

		var mso mobileSecurityObject
		s.Require().NoError(cbor.Unmarshal(unsigned.MSO, &mso))
		s.Equal("did:example:holder", mso.DeviceKeyInfo["deviceKey"])
	})
}
