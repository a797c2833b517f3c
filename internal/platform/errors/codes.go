// Package errors provides structured error handling with transport mapping.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Canvas protocol errors
	CodeOutOfBounds         Code = "OUT_OF_BOUNDS"
	CodeLengthMismatch      Code = "LENGTH_MISMATCH"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeInsufficientPayment Code = "INSUFFICIENT_PAYMENT"
	CodeIntegrityError      Code = "INTEGRITY_ERROR"
	CodeCapacityExceeded    Code = "CAPACITY_EXCEEDED"
	CodeInvalidRecord       Code = "INVALID_RECORD"
	CodeBatchLimit          Code = "BATCH_LIMIT"

	// Service errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL"
	CodeUnavailable     Code = "UNAVAILABLE"

	// Grant errors
	CodeGrantInvalid  Code = "GRANT_INVALID"
	CodeGrantExpired  Code = "GRANT_EXPIRED"
	CodeGrantMismatch Code = "GRANT_MISMATCH"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed or mismatched input
	case CodeOutOfBounds,
		CodeLengthMismatch,
		CodeBatchLimit,
		CodeInvalidArgument:
		return http.StatusBadRequest

	// Unprocessable - structurally valid input failing domain constraints
	case CodeIntegrityError,
		CodeInvalidRecord:
		return http.StatusUnprocessableEntity

	case CodeInsufficientPayment:
		return http.StatusPaymentRequired

	case CodeAccessDenied,
		CodeGrantMismatch:
		return http.StatusForbidden

	case CodeUnauthenticated,
		CodeGrantInvalid,
		CodeGrantExpired:
		return http.StatusUnauthorized

	case CodeNotFound:
		return http.StatusNotFound

	case CodeRateLimited:
		return http.StatusTooManyRequests

	// Conflict - exhausted id or counter space, duplicate resources
	case CodeCapacityExceeded,
		CodeAlreadyExists:
		return http.StatusConflict

	case CodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
