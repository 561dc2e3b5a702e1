// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Credential errors
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeExpired      Code = "EXPIRED"

	// Lifecycle errors
	CodeInvalidPhase    Code = "INVALID_PHASE"
	CodeSetupIncomplete Code = "SETUP_INCOMPLETE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Protocol errors
	CodeTimeout Code = "TIMEOUT"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Unauthorized - missing, invalid, or rotated-away credential. Expired
	// access tokens share the status but keep a distinct body code so
	// clients can reconnect instead of re-authenticating.
	case CodeUnauthorized, CodeExpired:
		return http.StatusUnauthorized

	// NotAcceptable - lifecycle state disallows the operation.
	case CodeInvalidPhase, CodeSetupIncomplete:
		return http.StatusNotAcceptable

	case CodeNotFound:
		return http.StatusNotFound

	case CodeConflict:
		return http.StatusConflict

	case CodeTimeout:
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}
