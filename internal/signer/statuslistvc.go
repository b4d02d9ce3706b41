package signer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"attest/internal/credential"
	"attest/internal/statuslist"
	"attest/pkg/requestcontext"
)

// StatusListBuilder constructs and signs BitstringStatusListCredential
// documents. It satisfies the status list allocator's and revocation
// service's builder dependency, so every encodedList mutation leaves a
// freshly signed credential behind.
type StatusListBuilder struct {
	jsonld      *JSONLDSigner
	listBaseURL string
	meta        credential.Metadata
}

// NewStatusListBuilder wires the JSON-LD signer to the status list domain.
// meta supplies the crypto suite, verification method and algorithm used for
// status list credentials.
func NewStatusListBuilder(jsonld *JSONLDSigner, listBaseURL string, meta credential.Metadata) *StatusListBuilder {
	return &StatusListBuilder{
		jsonld:      jsonld,
		listBaseURL: strings.TrimRight(listBaseURL, "/"),
		meta:        meta,
	}
}

func (b *StatusListBuilder) BuildStatusListCredential(ctx context.Context, list *statuslist.List) (string, error) {
	listURL := b.listBaseURL + "/" + list.ID
	doc := map[string]any{
		"@context":  []any{"https://www.w3.org/ns/credentials/v2"},
		"id":        listURL,
		// json-gold canonicalization walks untyped values only; a []string
		// here is rejected inside Normalize.
		"type":      []any{"VerifiableCredential", "BitstringStatusListCredential"},
		"issuer":    list.IssuerID,
		"validFrom": requestcontext.Now(ctx).UTC().Format(time.RFC3339),
		"credentialSubject": map[string]any{
			"id":            listURL + "#list",
			"type":          "BitstringStatusList",
			"statusPurpose": string(list.StatusPurpose),
			"encodedList":   list.EncodedList,
		},
	}

	signed, err := b.jsonld.signDocument(ctx, doc, b.meta)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(signed)
	if err != nil {
		return "", signingFailed(err)
	}
	return string(raw), nil
}
