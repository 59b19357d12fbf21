// Package domainerrors defines the error kinds the claim service reports to callers.
//
// Services return *Error values carrying a stable Code; transports map the code to a
// status with ToHTTPStatus and render Message as the remediation text. Infrastructure
// failures stay wrapped inside Err and never reach the client.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeBadRequest          Code = "bad_request"
	CodeMalformedSignature  Code = "malformed_signature"
	CodeSignatureInvalid    Code = "signature_invalid"
	CodeNoPendingRequest    Code = "no_pending_request"
	CodeRequestExpired      Code = "request_expired"
	CodeProofNotFound       Code = "proof_not_found"
	CodeOracleUnavailable   Code = "oracle_unavailable"
	CodeSigningUnconfigured Code = "signing_unconfigured"
	CodeNotFound            Code = "not_found"
	CodeUnsupportedMedia    Code = "unsupported_media_type"
	CodeTimeout             Code = "timeout"
	CodeInternal            Code = "internal_error"
)

// Error is a domain error. Reason refines Code for validation failures
// (e.g. "too_long") and Details carries extra response fields.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Details map[string]any
	Err     error
}

// New creates a domain error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a domain code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithReason returns a copy of e with the reason set.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// WithDetails returns a copy of e with extra response fields merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries a domain error with the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the domain code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to an HTTP status code.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeMalformedSignature:
		return http.StatusBadRequest
	case CodeSignatureInvalid:
		return http.StatusUnauthorized
	case CodeNoPendingRequest, CodeNotFound:
		return http.StatusNotFound
	case CodeRequestExpired:
		return http.StatusGone
	case CodeProofNotFound:
		return http.StatusUnprocessableEntity
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case CodeOracleUnavailable, CodeSigningUnconfigured:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
