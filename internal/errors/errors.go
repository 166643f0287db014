// Package errors provides standardized error handling for the vCon registry.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the vCon registry.
type ErrorCode string

const (
	// Validation errors
	VCON_VALIDATION     ErrorCode = "VCON_VALIDATION"     // General validation error
	VCON_SCHEMA_REJECT  ErrorCode = "VCON_SCHEMA_REJECT"  // Document rejected by the JSON Schema gate
	VCON_STRUCTURE      ErrorCode = "VCON_STRUCTURE"      // Entity or container could not be constructed
	VCON_REFERENCE      ErrorCode = "VCON_REFERENCE"      // Cross-entity index out of range
	VCON_BAD_REQUEST    ErrorCode = "VCON_BAD_REQUEST"    // Bad request
	VCON_CURSOR_INVALID ErrorCode = "VCON_CURSOR_INVALID" // Invalid cursor
	VCON_TOO_LARGE      ErrorCode = "VCON_TOO_LARGE"      // Document exceeds the size limit

	// Authentication/Authorization errors
	VCON_AUTHZ         ErrorCode = "VCON_AUTHZ"         // Authorization failed
	VCON_AUTHN         ErrorCode = "VCON_AUTHN"         // Authentication failed
	VCON_JWT_INVALID   ErrorCode = "VCON_JWT_INVALID"   // Invalid JWT
	VCON_JWT_EXPIRED   ErrorCode = "VCON_JWT_EXPIRED"   // Expired JWT
	VCON_JWT_MALFORMED ErrorCode = "VCON_JWT_MALFORMED" // Malformed JWT

	// Resource errors
	VCON_NOT_FOUND ErrorCode = "VCON_NOT_FOUND" // Document not found
	VCON_CONFLICT  ErrorCode = "VCON_CONFLICT"  // Document uuid already registered

	// Server errors
	VCON_INTERNAL    ErrorCode = "VCON_INTERNAL"    // Internal server error
	VCON_UNAVAILABLE ErrorCode = "VCON_UNAVAILABLE" // Service unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlationId"`
	Details       any       `json:"details,omitempty"`
	HTTPStatus    int       `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details any) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusFor returns the HTTP status a code is reported with.
func StatusFor(code ErrorCode) int { return httpStatusCodeForCode(code) }

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case VCON_VALIDATION, VCON_SCHEMA_REJECT, VCON_STRUCTURE, VCON_BAD_REQUEST, VCON_CURSOR_INVALID:
		return http.StatusBadRequest
	case VCON_REFERENCE:
		return http.StatusUnprocessableEntity
	case VCON_TOO_LARGE:
		return http.StatusRequestEntityTooLarge
	case VCON_AUTHZ:
		return http.StatusForbidden
	case VCON_AUTHN, VCON_JWT_INVALID, VCON_JWT_EXPIRED, VCON_JWT_MALFORMED:
		return http.StatusUnauthorized
	case VCON_NOT_FOUND:
		return http.StatusNotFound
	case VCON_CONFLICT:
		return http.StatusConflict
	case VCON_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
