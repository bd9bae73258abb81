package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates no valid identity could be resolved.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a valid identity outside the requested customer scope.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates the quality policy rejected the request.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeUpstream indicates the hosted auth service or the backend failed.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeGeneration indicates a resource generation was rejected or errored.
	ErrorTypeGeneration ErrorType = "generation"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeMissingCredentials ErrorCode = "missing_credentials"
	ErrorCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrorCodeCustomerScope      ErrorCode = "customer_scope"
	ErrorCodeAdminRequired      ErrorCode = "admin_required"
	ErrorCodeRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	ErrorCodeSessionExpired     ErrorCode = "session_expired"
	ErrorCodeInProgress         ErrorCode = "generation_in_progress"
	ErrorCodeRequestTimeout     ErrorCode = "request_timeout"
)

// Sentinel errors shared across packages.
var (
	// ErrSessionInvalid is returned by session sources when the hosted auth
	// service no longer accepts the session.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionExpired is returned when refreshing a session that already expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrCredentialNotFound is returned by credential stores on a miss.
	ErrCredentialNotFound = errors.New("credential not found")
)

// APIError is the canonical error returned to HTTP clients.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	// RetryAfter is sent as the Retry-After header when set
	RetryAfter time.Duration `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithRetryAfter sets how long the client should wait before retrying.
func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	e.RetryAfter = d
	return e
}

// WithCause records the underlying error for errors.Is/As.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthenticationRequired creates the error returned when no identity resolves.
func ErrAuthenticationRequired(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrAuthorizationDenied creates the error returned for out-of-scope access.
func ErrAuthorizationDenied(message string) *APIError {
	return NewAPIError(ErrorTypePermission, message).
		WithCode(ErrorCodeCustomerScope)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded)
}

// ErrUpstream creates an upstream service error.
func ErrUpstream(message string) *APIError {
	return NewAPIError(ErrorTypeUpstream, message)
}

// ErrGenerationFailed creates a resource generation error.
func ErrGenerationFailed(message string) *APIError {
	return NewAPIError(ErrorTypeGeneration, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// AsAPIError converts any error to an *APIError, wrapping unknown errors as
// generic server errors.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrServer("internal server error").WithCause(err)
}
