package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorIs(t *testing.T) {
	err := fmt.Errorf("extract 1234: %w", NewProviderError("openai", ProviderAuthFailure, 401, errors.New("bad key")))

	assert.True(t, errors.Is(err, ErrAuthFailure))
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrMalformedResponse))

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 401, pe.StatusCode)
	assert.Contains(t, err.Error(), "auth_failure")
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"network", &NetworkError{Op: "GET", URL: "http://x", Err: errors.New("reset")}, "network"},
		{"rate limited", NewProviderError("gemini", ProviderRateLimited, 429, nil), "rate_limited"},
		{"malformed", fmt.Errorf("wrap: %w", NewProviderError("ollama", ProviderMalformedResponse, 0, nil)), "malformed_response"},
		{"integrity", &IntegrityError{VerificationKey: "ABCDEF123456"}, "integrity"},
		{"parse", &ParseError{Field: "purity", Value: "abc", Err: errors.New("bad")}, "parse"},
		{"duplicate", fmt.Errorf("upsert: %w", ErrDuplicateTaskNumber), "duplicate"},
		{"other", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
