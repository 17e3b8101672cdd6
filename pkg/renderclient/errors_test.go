package renderclient

import (
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "without wrapped error",
			err: &ServiceError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Message:    "500 Internal Server Error",
			},
			expected: "render service server error (status 500): 500 Internal Server Error",
		},
		{
			name: "with wrapped error",
			err: &ServiceError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "429 Too Many Requests",
				Err:        errors.New("slow down"),
			},
			expected: "render service rate_limit error (status 429): 429 Too Many Requests: slow down",
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

func TestServiceError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &ServiceError{
		StatusCode: 502,
		ErrorClass: ErrorClassServer,
		Message:    "bad gateway",
		Err:        inner,
	}

	wrapped := fmt.Errorf("render: %w", err)
	if !errors.Is(wrapped, inner) {
		t.Error("expected errors.Is to reach the inner error")
	}

	var serr *ServiceError
	if !errors.As(wrapped, &serr) {
		t.Fatal("expected errors.As to find *ServiceError")
	}
	if serr.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want 502", serr.StatusCode)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass("unknown"), false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.expected {
			t.Errorf("shouldRetry(%s) = %v, want %v", tt.class, got, tt.expected)
		}
	}
}
