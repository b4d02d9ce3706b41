package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attest/internal/credential"
)

// IntrospectionVerifier validates tokens via RFC 7662 introspection.
type IntrospectionVerifier struct {
	endpoint     string
	clientID     string
	clientSecret string
	client       *http.Client
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	Exp      int64  `json:"exp"`
}

func NewIntrospectionVerifier(endpoint, clientID, clientSecret string, opts ...IntrospectionOption) *IntrospectionVerifier {
	v := &IntrospectionVerifier{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type IntrospectionOption func(*IntrospectionVerifier)

// WithHTTPClient overrides the default client, mainly for tests.
func WithHTTPClient(c *http.Client) IntrospectionOption {
	return func(v *IntrospectionVerifier) { v.client = c }
}

func (v *IntrospectionVerifier) Verify(ctx context.Context, raw string) (credential.AccessToken, error) {
	form := url.Values{"token": {raw}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return credential.AccessToken{}, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(v.clientID, v.clientSecret)

	resp, err := v.client.Do(req)
	if err != nil {
		return credential.AccessToken{}, fmt.Errorf("call introspection endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return credential.AccessToken{}, fmt.Errorf("introspection returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return credential.AccessToken{}, fmt.Errorf("decode introspection response: %w", err)
	}

	t := credential.AccessToken{
		Subject:  out.Subject,
		ClientID: out.ClientID,
		Active:   out.Active,
		Raw:      raw,
	}
	if out.Scope != "" {
		t.Scopes = strings.Fields(out.Scope)
	}
	if out.Exp > 0 {
		t.ExpiresAt = time.Unix(out.Exp, 0)
	}
	return t, nil
}
