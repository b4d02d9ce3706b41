package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"attest/internal/issuance"
	derrors "attest/pkg/domainerrors"
)

// errorBody is the OpenID4VCI-style error envelope. The nonce fields are only
// present on proof-nonce retries.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	CNonce           string `json:"c_nonce,omitempty"`
	CNonceExpiresIn  int64  `json:"c_nonce_expires_in,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates a domain error into the wire envelope.
func writeError(w http.ResponseWriter, err error) {
	var retry *issuance.NonceRetryError
	if errors.As(err, &retry) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:            string(derrors.CodeInvalidProof),
			ErrorDescription: "proof nonce rejected, retry with the returned c_nonce",
			CNonce:           retry.CNonce,
			CNonceExpiresIn:  int64(retry.ExpiresIn.Seconds()),
		})
		return
	}

	code := derrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorBody{
		Error:            wireName(code),
		ErrorDescription: derrors.MessageOf(err),
	})
}

func statusFor(code derrors.Code) int {
	switch code {
	case derrors.CodeInvalidRequest, derrors.CodeInvalidProof, derrors.CodeInvalidScope:
		return http.StatusBadRequest
	case derrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case derrors.CodeNotFound:
		return http.StatusNotFound
	case derrors.CodeExhausted, derrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// wireName maps internal codes onto the OAuth/OpenID4VCI error vocabulary.
func wireName(code derrors.Code) string {
	switch code {
	case derrors.CodeUnauthorized:
		return "invalid_token"
	case derrors.CodeNotFound:
		return "not_found"
	case derrors.CodeExhausted, derrors.CodeUnavailable:
		return "temporarily_unavailable"
	case derrors.CodeInternal:
		return "server_error"
	}
	return string(code)
}
