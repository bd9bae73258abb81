package domain

import (
	"errors"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypePermission, Code: ErrorCodeCustomerScope, Message: "denied"},
			expected: "permission (customer_scope): denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{"invalid request", &APIError{Type: ErrorTypeInvalidRequest}, http.StatusBadRequest},
		{"authentication required", ErrAuthenticationRequired("x"), http.StatusUnauthorized},
		{"authorization denied", ErrAuthorizationDenied("x"), http.StatusForbidden},
		{"not found", ErrNotFound("x"), http.StatusNotFound},
		{"rate limit", ErrRateLimit("x"), http.StatusTooManyRequests},
		{"upstream", ErrUpstream("x"), http.StatusInternalServerError},
		{"generation failed", ErrGenerationFailed("x"), http.StatusBadGateway},
		{"server", ErrServer("x"), http.StatusInternalServerError},
		{"explicit status wins", ErrUpstream("x").WithStatusCode(http.StatusServiceUnavailable), http.StatusServiceUnavailable},
		{"unknown type", &APIError{Type: "mystery"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAsAPIError(t *testing.T) {
	original := ErrAuthenticationRequired("who are you")
	if got := AsAPIError(original); got != original {
		t.Errorf("AsAPIError() should return the same *APIError")
	}

	cause := errors.New("disk on fire")
	got := AsAPIError(cause)
	if got.Type != ErrorTypeServer {
		t.Errorf("Type = %q, want %q", got.Type, ErrorTypeServer)
	}
	if got.Message == cause.Error() {
		t.Errorf("internal error message must not leak to clients")
	}
	if !errors.Is(got, cause) {
		t.Errorf("AsAPIError() should wrap the cause")
	}
}

func TestEvent_ResourceID(t *testing.T) {
	e := Event{Type: EventGenerationProgress, Payload: map[string]any{PayloadResourceID: "r1"}}
	if got := e.ResourceID(); got != "r1" {
		t.Errorf("ResourceID() = %q, want r1", got)
	}
	if got := (Event{}).ResourceID(); got != "" {
		t.Errorf("ResourceID() on empty event = %q, want empty", got)
	}
}
