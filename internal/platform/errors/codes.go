// Package errors provides structured error handling shared by the realtime
// core and its reference game collaborator.
package errors

import "net/http"

// Code is a machine-readable error code carried on the wire.
type Code string

const (
	// CodeInternal represents an unexpected failure.
	CodeInternal Code = "INTERNAL"

	// Authentication and authorization
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"

	// Concurrency control
	CodeLocked          Code = "LOCKED"
	CodeVersionConflict Code = "VERSION_CONFLICT"

	// Input and lookup
	CodeBadRequest Code = "BAD_REQUEST"
	CodeNotFound   Code = "NOT_FOUND"

	// Transport
	CodeProtocolError Code = "PROTOCOL_ERROR"
	CodeRateLimited   Code = "RATE_LIMITED"
)

// HTTPStatus maps domain codes to HTTP status codes for the upgrade path and
// JSON endpoints.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeLocked, CodeVersionConflict:
		return http.StatusConflict
	case CodeBadRequest, CodeProtocolError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may resubmit after refreshing state.
func (c Code) Retryable() bool {
	switch c {
	case CodeLocked, CodeVersionConflict, CodeRateLimited:
		return true
	default:
		return false
	}
}
