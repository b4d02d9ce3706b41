package signer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"attest/internal/assembler"
	"attest/internal/credential"
)

// issuerSigned is the final mdoc artifact (ISO 18013-5 IssuerSigned).
type issuerSigned struct {
	NameSpaces map[string][]cbor.RawMessage `cbor:"nameSpaces"`
	IssuerAuth cbor.RawMessage              `cbor:"issuerAuth"`
}

// MdocSigner COSE-signs the MSO of an assembled mdoc and packages the final
// IssuerSigned structure.
type MdocSigner struct {
	signer Signer
}

func NewMdocSigner(signer Signer) *MdocSigner { return &MdocSigner{signer: signer} }

func (s *MdocSigner) Format() credential.Format { return credential.FormatMsoMdoc }

func (s *MdocSigner) SignCredential(ctx context.Context, unsigned string, meta credential.Metadata) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(unsigned)
	if err != nil {
		return "", signingFailed(fmt.Errorf("unsigned mdoc is not base64url: %w", err))
	}
	var u assembler.UnsignedMdoc
	if err := cbor.Unmarshal(raw, &u); err != nil {
		return "", signingFailed(fmt.Errorf("decode unsigned mdoc: %w", err))
	}

	alg, err := coseAlgorithm(meta.SignAlgorithm)
	if err != nil {
		return "", signingFailed(err)
	}

	// The COSE_Sign1 payload is the MSO wrapped as an embedded CBOR item.
	payload, err := cbor.Marshal(cbor.Tag{Number: 24, Content: u.MSO})
	if err != nil {
		return "", signingFailed(err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: alg},
	}
	issuerAuth, err := cose.Sign1(nil, &coseSignerAdapter{ctx: ctx, signer: s.signer, alg: alg, algName: meta.SignAlgorithm}, headers, payload, nil)
	if err != nil {
		return "", signingFailed(fmt.Errorf("cose sign: %w", err))
	}

	out, err := cbor.Marshal(issuerSigned{
		NameSpaces: u.NameSpaces,
		IssuerAuth: issuerAuth,
	})
	if err != nil {
		return "", signingFailed(err)
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// coseSignerAdapter bridges the signing collaborator into go-cose's Signer.
type coseSignerAdapter struct {
	ctx     context.Context
	signer  Signer
	alg     cose.Algorithm
	algName string
}

func (a *coseSignerAdapter) Algorithm() cose.Algorithm { return a.alg }

func (a *coseSignerAdapter) Sign(_ io.Reader, content []byte) ([]byte, error) {
	return a.signer.Sign(a.ctx, content, a.algName)
}

func coseAlgorithm(name string) (cose.Algorithm, error) {
	switch name {
	case "ES256":
		return cose.AlgorithmES256, nil
	case "ES384":
		return cose.AlgorithmES384, nil
	case "ES512":
		return cose.AlgorithmES512, nil
	case "EdDSA", "":
		return cose.AlgorithmEdDSA, nil
	}
	return 0, fmt.Errorf("unsupported mdoc signing algorithm %s", name)
}
