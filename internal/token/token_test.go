package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/internal/credential"
)

// =============================================================================
// Token Verifier Test Suite
// =============================================================================

type TokenSuite struct {
	suite.Suite
}

func TestTokenSuite(t *testing.T) {
	suite.Run(t, new(TokenSuite))
}

func (s *TokenSuite) TestStaticVerifier() {
	ctx := context.Background()

	verifier := NewStaticVerifier(
		credential.AccessToken{Raw: "good", ClientID: "client-1", Active: true},
		credential.AccessToken{Raw: "expired", ClientID: "client-2", Active: true, ExpiresAt: time.Now().Add(-time.Hour)},
	)

	s.Run("known token is returned as-is", func() {
		tok, err := verifier.Verify(ctx, "good")
		s.NoError(err)
		s.True(tok.Active)
		s.Equal("client-1", tok.ClientID)
	})

	s.Run("unknown token is inactive, not an error", func() {
		tok, err := verifier.Verify(ctx, "who-knows")
		s.NoError(err)
		s.False(tok.Active)
	})

	s.Run("expired token is deactivated", func() {
		tok, err := verifier.Verify(ctx, "expired")
		s.NoError(err)
		s.False(tok.Active)
	})
}

func (s *TokenSuite) TestIntrospectionVerifier() {
	ctx := context.Background()

	s.Run("active response maps onto the access token", func() {
		var gotToken, gotUser, gotPass string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Require().NoError(r.ParseForm())
			gotToken = r.PostFormValue("token")
			gotUser, gotPass, _ = r.BasicAuth()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"active":    true,
				"sub":       "user-1",
				"client_id": "client-1",
				"scope":     "openid test_vc_ldp",
				"exp":       time.Now().Add(time.Hour).Unix(),
			})
		}))
		defer srv.Close()

		verifier := NewIntrospectionVerifier(srv.URL, "issuer-svc", "secret", WithHTTPClient(srv.Client()))
		tok, err := verifier.Verify(ctx, "opaque-token")
		s.Require().NoError(err)

		s.Equal("opaque-token", gotToken)
		s.Equal("issuer-svc", gotUser)
		s.Equal("secret", gotPass)

		s.True(tok.Active)
		s.Equal("user-1", tok.Subject)
		s.Equal("client-1", tok.ClientID)
		s.Equal([]string{"openid", "test_vc_ldp"}, tok.Scopes)
		s.Equal("opaque-token", tok.Raw)
		s.False(tok.ExpiresAt.IsZero())
	})

	s.Run("inactive response stays inactive without error", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
		}))
		defer srv.Close()

		verifier := NewIntrospectionVerifier(srv.URL, "issuer-svc", "secret", WithHTTPClient(srv.Client()))
		tok, err := verifier.Verify(ctx, "revoked-token")
		s.NoError(err)
		s.False(tok.Active)
	})

	s.Run("non-200 from the authorization server is an error", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer srv.Close()

		verifier := NewIntrospectionVerifier(srv.URL, "issuer-svc", "secret", WithHTTPClient(srv.Client()))
		_, err := verifier.Verify(ctx, "any")
		s.Error(err)
	})
}
