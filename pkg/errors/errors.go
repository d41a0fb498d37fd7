// Package errors defines structured error types for the tokend service.
// Every error carries a machine-readable code, an HTTP status and an
// optional cause chain. Expected verification outcomes (expired, revoked,
// malformed tokens) are NOT represented as errors; they travel as tagged
// validation results. Errors here cover configuration faults, storage
// faults and malformed requests.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/stratumsec/tokend/pkg/constants"
)

// Error is the structured application error.
type Error struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	cause       error
	metadata    map[string]any
}

// New creates a new Error with the given code, HTTP status and description.
func New(code constants.ErrorCode, httpStatus int, description string) *Error {
	return &Error{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.description)
}

// Code returns the machine-readable error code.
func (e *Error) Code() constants.ErrorCode { return e.code }

// HTTPStatus returns the HTTP status this error maps to.
func (e *Error) HTTPStatus() int { return e.httpStatus }

// Description returns the human-readable description.
func (e *Error) Description() string { return e.description }

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithCause returns a copy of the error with a cause attached.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithMetadata returns a copy of the error with one metadata entry added.
func (e *Error) WithMetadata(key string, value any) *Error {
	clone := *e
	clone.metadata = make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		clone.metadata[k] = v
	}
	clone.metadata[key] = value
	return &clone
}

// Metadata returns the attached metadata, possibly nil.
func (e *Error) Metadata() map[string]any { return e.metadata }

// Is reports whether target is an *Error with the same code, so sentinel
// constructors below compare by code across WithCause/WithMetadata copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return e.code == t.code
}

// ================================================================================
// Sentinel Constructors
// ================================================================================

// ErrNoActiveKey indicates no signing key has ever been activated.
// This is an administrative precondition failure, fatal per call.
var ErrNoActiveKey = New(constants.ErrCodeNoActiveKey, http.StatusInternalServerError,
	"no active signing key; key rotation has never been run")

// ErrKeyGenerationFailure indicates the crypto primitive failed to
// produce a key pair.
var ErrKeyGenerationFailure = New(constants.ErrCodeKeyGenerationFailure, http.StatusInternalServerError,
	"signing key generation failed")

// ErrKeyNotFound indicates an unknown signing key id.
var ErrKeyNotFound = New(constants.ErrCodeKeyNotFound, http.StatusNotFound,
	"signing key not found")

// ErrKeyExpired indicates the signing key's validity horizon has passed.
var ErrKeyExpired = New(constants.ErrCodeKeyExpired, http.StatusUnauthorized,
	"signing key has expired")

// ErrTokenNotFound indicates the referenced token id has no stored record.
var ErrTokenNotFound = New(constants.ErrCodeNotFound, http.StatusNotFound,
	"token not found")

// ErrStorage indicates a durable store operation failed. Callers may
// retry; revocation is idempotent specifically to make such retries safe.
var ErrStorage = New(constants.ErrCodeStorageFailure, http.StatusServiceUnavailable,
	"storage operation failed")

// ErrMissingToken indicates no token was supplied where one is required.
var ErrMissingToken = New(constants.ErrCodeMissingToken, http.StatusBadRequest,
	"no token supplied")

// ErrInvalidRequest creates an invalid_request error with a specific message.
func ErrInvalidRequest(message string) *Error {
	return New(constants.ErrCodeInvalidRequest, http.StatusBadRequest, message)
}

// ================================================================================
// Helpers
// ================================================================================

// AsError attempts to cast err to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

// CodeOf returns the error code of err, or storage_failure for
// unclassified errors.
func CodeOf(err error) constants.ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code()
	}
	return constants.ErrCodeStorageFailure
}

// IsRetryable reports whether the failure is transient from the caller's
// perspective (storage faults only).
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrStorage)
}

// ErrorResponse is the JSON body returned for error results.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ToResponse converts any error to the wire representation. Unclassified
// errors are reported as storage failures without internal detail.
func ToResponse(err error) *ErrorResponse {
	if e, ok := AsError(err); ok {
		return &ErrorResponse{
			Error:            string(e.Code()),
			ErrorDescription: e.Description(),
		}
	}
	return &ErrorResponse{
		Error:            string(constants.ErrCodeStorageFailure),
		ErrorDescription: "an unexpected error occurred",
	}
}
