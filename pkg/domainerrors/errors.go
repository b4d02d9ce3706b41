// Package domainerrors defines coded errors that services return and the
// transport layer translates into wire responses. Codes classify the failure
// for the caller; the wrapped cause stays available for logs via errors.Unwrap.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and retry semantics.
type Code string

const (
	// CodeInvalidRequest marks a structurally malformed request. Client-correctable.
	CodeInvalidRequest Code = "invalid_request"
	// CodeInvalidProof marks a failed proof-of-possession check. The client must
	// obtain a fresh proof (and usually a fresh nonce) before retrying.
	CodeInvalidProof Code = "invalid_proof"
	// CodeInvalidScope marks a token whose scopes resolve to no credential configuration.
	CodeInvalidScope Code = "invalid_scope"
	// CodeUnauthorized marks a missing or inactive access token.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound marks a referenced entity that does not exist.
	CodeNotFound Code = "not_found"
	// CodeExhausted marks resource exhaustion that auto-remediation could not fix.
	CodeExhausted Code = "exhausted"
	// CodeUnavailable marks a downstream collaborator that could not be reached.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks everything else; details stay in logs.
	CodeInternal Code = "internal"
)

// Error carries a code, a caller-facing message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal if err is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-facing message from err, falling back to a
// generic message so raw causes never leak to clients.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
