package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

// =============================================================================
// Signing Client Test Suite
// =============================================================================

type SigningSuite struct {
	suite.Suite
}

func TestSigningSuite(t *testing.T) {
	suite.Run(t, new(SigningSuite))
}

func (s *SigningSuite) TestLocalEd25519Signer() {
	ctx := context.Background()

	signer, pub, err := GenerateLocalEd25519Signer()
	s.Require().NoError(err)

	s.Run("signatures verify against the published key", func() {
		sig, err := signer.Sign(ctx, []byte("payload"), "EdDSA")
		s.Require().NoError(err)
		s.True(ed25519.Verify(pub, []byte("payload"), sig))
		s.Equal(pub, signer.Public())
	})

	s.Run("empty algorithm defaults to EdDSA", func() {
		sig, err := signer.Sign(ctx, []byte("payload"), "")
		s.NoError(err)
		s.True(ed25519.Verify(pub, []byte("payload"), sig))
	})

	s.Run("other algorithms are rejected", func() {
		_, err := signer.Sign(ctx, []byte("payload"), "ES256")
		s.Error(err)
	})
}

func (s *SigningSuite) TestHTTPSigner() {
	ctx := context.Background()

	s.Run("posts the payload and decodes the signature", func() {
		var gotPath string
		var gotBody map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&gotBody))
			_ = json.NewEncoder(w).Encode(map[string]string{
				"signature": base64.RawURLEncoding.EncodeToString([]byte("raw-signature")),
			})
		}))
		defer srv.Close()

		signer := NewHTTPSigner(srv.URL, "issuer-app", "key-1", WithHTTPClient(srv.Client()))
		sig, err := signer.Sign(ctx, []byte("digest"), "EdDSA")
		s.Require().NoError(err)

		s.Equal("/v1/keys/issuer-app/key-1/sign", gotPath)
		s.Equal(base64.RawURLEncoding.EncodeToString([]byte("digest")), gotBody["payload"])
		s.Equal("EdDSA", gotBody["algorithm"])
		s.Equal([]byte("raw-signature"), sig)
	})

	s.Run("non-200 responses are errors", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "key not found", http.StatusNotFound)
		}))
		defer srv.Close()

		signer := NewHTTPSigner(srv.URL, "issuer-app", "key-1", WithHTTPClient(srv.Client()))
		_, err := signer.Sign(ctx, []byte("digest"), "EdDSA")
		s.Error(err)
		s.Contains(err.Error(), "404")
	})

	s.Run("garbage signature encoding is an error", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"signature": "!!!"})
		}))
		defer srv.Close()

		signer := NewHTTPSigner(srv.URL, "issuer-app", "key-1", WithHTTPClient(srv.Client()))
		_, err := signer.Sign(ctx, []byte("digest"), "EdDSA")
		s.Error(err)
	})
}
