package assembler

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"attest/internal/credential"
)

// cborTagEncodedItem is the CBOR tag wrapping each encoded IssuerSignedItem
// (RFC 8949 tag 24, embedded CBOR data item).
const cborTagEncodedItem = 24

// UnsignedMdoc is the intermediate document the mdoc assembler hands to the
// signer: the issuer namespaces plus the MSO bytes awaiting COSE signing.
type UnsignedMdoc struct {
	DocType    string                       `cbor:"docType"`
	NameSpaces map[string][]cbor.RawMessage `cbor:"nameSpaces"`
	MSO        []byte                       `cbor:"mso"`
}

// issuerSignedItem is one data element with its anti-correlation salt
// (ISO 18013-5 IssuerSignedItem).
type issuerSignedItem struct {
	DigestID          uint64 `cbor:"digestID"`
	Random            []byte `cbor:"random"`
	ElementIdentifier string `cbor:"elementIdentifier"`
	ElementValue      any    `cbor:"elementValue"`
}

// mobileSecurityObject is the MSO payload (ISO 18013-5 9.1.2.4).
type mobileSecurityObject struct {
	Version         string                       `cbor:"version"`
	DigestAlgorithm string                       `cbor:"digestAlgorithm"`
	ValueDigests    map[string]map[uint64][]byte `cbor:"valueDigests"`
	DeviceKeyInfo   map[string]any               `cbor:"deviceKeyInfo,omitempty"`
	DocType         string                       `cbor:"docType"`
	ValidityInfo    validityInfo                 `cbor:"validityInfo"`
	// Status carries the bitstring status entry; mdoc verifiers that predate
	// status lists ignore the extra MSO field.
	Status any `cbor:"status,omitempty"`
}

type validityInfo struct {
	Signed     time.Time  `cbor:"signed"`
	ValidFrom  time.Time  `cbor:"validFrom"`
	ValidUntil *time.Time `cbor:"validUntil,omitempty"`
}

// MsoMdocAssembler builds the unsigned ISO 18013-5 mdoc: issuer-signed items
// grouped under the document type namespace, and a Mobile Security Object
// carrying their digests. The output is the base64url CBOR encoding of the
// intermediate UnsignedMdoc.
type MsoMdocAssembler struct{}

func NewMsoMdocAssembler() *MsoMdocAssembler { return &MsoMdocAssembler{} }

func (a *MsoMdocAssembler) Format() credential.Format { return credential.FormatMsoMdoc }

func (a *MsoMdocAssembler) CreateCredential(_ context.Context, in Input) (string, error) {
	if in.Metadata.DocType == "" {
		return "", creationFailed(fmt.Errorf("configuration %s declares no docType", in.Metadata.ID))
	}
	// The holder binds through deviceKeyInfo; the namespace carries claim
	// elements only.
	claims := in
	claims.HolderID = ""
	subject, err := renderSubject(claims)
	if err != nil {
		return "", creationFailed(err)
	}

	// Deterministic element order keeps digest IDs stable for a given claim set.
	names := make([]string, 0, len(subject))
	for name := range subject {
		names = append(names, name)
	}
	sort.Strings(names)

	namespace := in.Metadata.DocType
	items := make([]cbor.RawMessage, 0, len(names))
	digests := make(map[uint64][]byte, len(names))
	for i, name := range names {
		random := make([]byte, 16)
		if _, err := rand.Read(random); err != nil {
			return "", creationFailed(fmt.Errorf("generate element salt: %w", err))
		}
		itemBytes, err := cbor.Marshal(issuerSignedItem{
			DigestID:          uint64(i),
			Random:            random,
			ElementIdentifier: name,
			ElementValue:      subject[name],
		})
		if err != nil {
			return "", creationFailed(fmt.Errorf("encode element %q: %w", name, err))
		}
		tagged, err := cbor.Marshal(cbor.Tag{Number: cborTagEncodedItem, Content: itemBytes})
		if err != nil {
			return "", creationFailed(err)
		}
		items = append(items, tagged)
		sum := sha256.Sum256(tagged)
		digests[uint64(i)] = sum[:]
	}

	mso := mobileSecurityObject{
		Version:         "1.0",
		DigestAlgorithm: "SHA-256",
		ValueDigests:    map[string]map[uint64][]byte{namespace: digests},
		DocType:         in.Metadata.DocType,
		ValidityInfo: validityInfo{
			Signed:    in.IssuedAt.UTC(),
			ValidFrom: in.IssuedAt.UTC(),
		},
	}
	if in.Metadata.ValiditySeconds > 0 {
		until := in.IssuedAt.UTC().Add(time.Duration(in.Metadata.ValiditySeconds) * time.Second)
		mso.ValidityInfo.ValidUntil = &until
	}
	if in.HolderID != "" {
		mso.DeviceKeyInfo = map[string]any{"deviceKey": in.HolderID}
	}
	mso.Status = statusDocument(in.Statuses)

	msoBytes, err := cbor.Marshal(mso)
	if err != nil {
		return "", creationFailed(err)
	}
	unsigned, err := cbor.Marshal(UnsignedMdoc{
		DocType:    in.Metadata.DocType,
		NameSpaces: map[string][]cbor.RawMessage{namespace: items},
		MSO:        msoBytes,
	})
	if err != nil {
		return "", creationFailed(err)
	}
	return base64.RawURLEncoding.EncodeToString(unsigned), nil
}
