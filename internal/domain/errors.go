package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of a vision provider error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a permission/authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates the model or endpoint was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeOverloaded indicates the service is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// APIError is the canonical error returned by vision provider clients,
// regardless of which upstream API produced it.
type APIError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	// Provider names the upstream that produced the error.
	Provider string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeOverloaded, ErrorTypeServer:
		return true
	default:
		return false
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets the upstream HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithProvider sets the provider name.
func (e *APIError) WithProvider(provider string) *APIError {
	e.Provider = provider
	return e
}

// ErrorTypeFromStatus maps an HTTP status to an error type when the
// upstream body carries no usable type.
func ErrorTypeFromStatus(status int) ErrorType {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeInvalidRequest
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypePermission
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable || status == 529:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeServer
	}
}
