package signing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSigner calls the external signing service. The service owns the key
// material; this client only transports payload digests and signatures.
type HTTPSigner struct {
	baseURL  string
	keyAppID string
	keyRefID string
	client   *http.Client
}

type signRequest struct {
	Payload   string `json:"payload"`
	Algorithm string `json:"algorithm"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func NewHTTPSigner(baseURL, keyAppID, keyRefID string, opts ...HTTPOption) *HTTPSigner {
	s := &HTTPSigner{
		baseURL:  strings.TrimRight(baseURL, "/"),
		keyAppID: keyAppID,
		keyRefID: keyRefID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type HTTPOption func(*HTTPSigner)

// WithHTTPClient overrides the default client, mainly for tests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSigner) { s.client = c }
}

func (s *HTTPSigner) Sign(ctx context.Context, payload []byte, alg string) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		Payload:   base64.RawURLEncoding.EncodeToString(payload),
		Algorithm: alg,
	})
	if err != nil {
		return nil, failed(err)
	}

	url := fmt.Sprintf("%s/v1/keys/%s/%s/sign", s.baseURL, s.keyAppID, s.keyRefID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, failed(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, failed(fmt.Errorf("call signing service: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, failed(fmt.Errorf("signing service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failed(fmt.Errorf("decode signing response: %w", err))
	}
	sig, err := base64.RawURLEncoding.DecodeString(out.Signature)
	if err != nil {
		return nil, failed(fmt.Errorf("signing response signature is not base64url: %w", err))
	}
	return sig, nil
}
