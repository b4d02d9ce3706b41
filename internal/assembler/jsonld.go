package assembler

import (
	"context"
	"encoding/json"
	"time"

	"attest/internal/credential"
)

const vcContextV2 = "https://www.w3.org/ns/credentials/v2"

// JSONLDAssembler builds an unsigned W3C Verifiable Credential document for
// the ldp_vc format. The output is the JSON document the Data Integrity
// signer adds its proof to.
type JSONLDAssembler struct{}

func NewJSONLDAssembler() *JSONLDAssembler { return &JSONLDAssembler{} }

func (a *JSONLDAssembler) Format() credential.Format { return credential.FormatLDPVC }

func (a *JSONLDAssembler) CreateCredential(_ context.Context, in Input) (string, error) {
	subject, err := renderSubject(in)
	if err != nil {
		return "", creationFailed(err)
	}

	contexts := []any{vcContextV2}
	for _, uri := range in.Metadata.ContextURIs {
		if uri != vcContextV2 {
			contexts = append(contexts, uri)
		}
	}

	doc := map[string]any{
		"@context":          contexts,
		"id":                "urn:uuid:" + in.CredentialID,
		"type":              []string{"VerifiableCredential", in.Metadata.CredentialType},
		"issuer":            in.IssuerID,
		"validFrom":         in.IssuedAt.UTC().Format(time.RFC3339),
		"credentialSubject": subject,
	}
	if in.Metadata.ValiditySeconds > 0 {
		doc["validUntil"] = in.IssuedAt.UTC().Add(time.Duration(in.Metadata.ValiditySeconds) * time.Second).Format(time.RFC3339)
	}
	if status := statusDocument(in.Statuses); status != nil {
		doc["credentialStatus"] = status
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", creationFailed(err)
	}
	return string(raw), nil
}

// statusDocument renders the credentialStatus value: a single
// BitstringStatusListEntry object, or an array when the credential
// participates in several purposes.
func statusDocument(entries []credential.StatusEntry) any {
	switch len(entries) {
	case 0:
		return nil
	case 1:
		return statusEntryDocument(entries[0])
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = statusEntryDocument(e)
	}
	return docs
}

func statusEntryDocument(entry credential.StatusEntry) map[string]any {
	return map[string]any{
		"id":                   entry.ID,
		"type":                 entry.Type,
		"statusPurpose":        string(entry.StatusPurpose),
		"statusListIndex":      entry.StatusListIndex,
		"statusListCredential": entry.StatusListCredential,
	}
}
