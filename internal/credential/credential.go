// Package credential holds the shared domain types for credential issuance:
// formats, configuration metadata, requests/responses, and the status entry
// embedded into issued credentials. Behavior lives in the assembler, signer,
// statuslist and issuance packages; this package stays data-only.
package credential

import "time"

// Format identifies a credential wire format (OpenID4VCI format identifiers).
type Format string

const (
	FormatLDPVC   Format = "ldp_vc"
	FormatSDJWT   Format = "vc+sd-jwt"
	FormatMsoMdoc Format = "mso_mdoc"
)

// ProofType identifies a proof-of-possession container.
type ProofType string

const (
	ProofTypeJWT ProofType = "jwt"
	ProofTypeCWT ProofType = "cwt"
)

// StatusPurpose names what a status bit means for a credential.
type StatusPurpose string

const (
	PurposeRevocation StatusPurpose = "revocation"
	PurposeSuspension StatusPurpose = "suspension"
)

// CryptoSuite names a signature suite for embedded proofs.
type CryptoSuite string

const (
	SuiteRSA2018     CryptoSuite = "RsaSignature2018"
	SuiteEd255192018 CryptoSuite = "Ed25519Signature2018"
	SuiteEd255192020 CryptoSuite = "Ed25519Signature2020"
	SuiteECDSAK1     CryptoSuite = "EcdsaSecp256k1Signature2019"
	SuiteECDSAR1     CryptoSuite = "JsonWebSignature2020"
)

// Metadata describes one issuable credential configuration. Immutable,
// resolved by scope; owned by the external configuration collaborator.
type Metadata struct {
	ID             string
	Scope          string
	Format         Format
	CredentialType string
	// ContextURIs are prepended to the JSON-LD @context for ldp_vc credentials.
	ContextURIs []string
	// DocType is the ISO 18013-5 document type for mso_mdoc credentials.
	DocType string

	SupportedProofTypes  []ProofType
	SupportedSigningAlgs []string
	// StatusPurposes this credential participates in; empty means the issued
	// credential carries no credentialStatus entry.
	StatusPurposes []StatusPurpose

	// Template is the credential body template; {{claim}} placeholders are
	// substituted by the assembler.
	Template string
	// DisclosablePaths marks sd-jwt claims that become selective disclosures.
	DisclosablePaths []string
	// SchemaJSON optionally carries a JSON schema the rendered claims document
	// must satisfy.
	SchemaJSON string

	CryptoSuite        CryptoSuite
	SignAlgorithm      string
	VerificationMethod string
	ValiditySeconds    int64
}

// SupportsProofType reports whether the configuration accepts the proof container.
func (m Metadata) SupportsProofType(pt ProofType) bool {
	for _, t := range m.SupportedProofTypes {
		if t == pt {
			return true
		}
	}
	return false
}

// Request is the credential endpoint payload after transport decoding.
type Request struct {
	Format                    Format
	CredentialConfigurationID string
	Proof                     *Proof
	// Claims supplied by the issuance workflow (subject data).
	Claims map[string]any
}

// Proof is the client's proof-of-possession object.
type Proof struct {
	ProofType ProofType
	// JWT carries the compact-serialized proof for ProofTypeJWT.
	JWT string
	// CWT carries the base64url COSE_Sign1 proof for ProofTypeCWT.
	CWT string
}

// Response is the successful issuance result.
type Response struct {
	Format     Format `json:"format"`
	Credential string `json:"credential"`
}

// StatusEntry is the credentialStatus object embedded into issued credentials,
// following the W3C Bitstring Status List entry shape.
type StatusEntry struct {
	ID                   string        `json:"id"`
	Type                 string        `json:"type"`
	StatusPurpose        StatusPurpose `json:"statusPurpose"`
	StatusListIndex      string        `json:"statusListIndex"`
	StatusListCredential string        `json:"statusListCredential"`
}

// StatusEntryType is the W3C-defined type for bitstring entries.
const StatusEntryType = "BitstringStatusListEntry"

// AccessToken is the validated token handed over by the OAuth collaborator.
type AccessToken struct {
	Subject  string
	ClientID string
	Scopes   []string
	Active   bool
	// Raw is the compact token; its hash keys the nonce record.
	Raw       string
	ExpiresAt time.Time
}
