package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateTaskNumber is returned when a task number already exists
	// under a different image hash.
	ErrDuplicateTaskNumber = errors.New("duplicate task number")

	// ErrRateLimited, ErrAuthFailure and ErrMalformedResponse match a
	// ProviderError of the same kind through errors.Is.
	ErrRateLimited       = errors.New("provider rate limited")
	ErrAuthFailure       = errors.New("provider authentication failed")
	ErrMalformedResponse = errors.New("provider returned a malformed response")
)

// NetworkError is a transport failure or a non-success status from a remote
// endpoint. It is retriable.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderErrorKind classifies extraction provider failures.
type ProviderErrorKind string

const (
	ProviderRateLimited       ProviderErrorKind = "rate_limited"
	ProviderAuthFailure       ProviderErrorKind = "auth_failure"
	ProviderMalformedResponse ProviderErrorKind = "malformed_response"
)

// ProviderError is a failure reported by a vision extraction provider.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == ProviderRateLimited
	case ErrAuthFailure:
		return e.Kind == ProviderAuthFailure
	case ErrMalformedResponse:
		return e.Kind == ProviderMalformedResponse
	}
	return false
}

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, kind ProviderErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// ParseError is a field-level failure while interpreting an extraction.
// The field is nulled and extraction continues.
type ParseError struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Err   error  `json:"-"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IntegrityError reports a verification key already owned by another
// certificate.
type IntegrityError struct {
	VerificationKey    string
	TaskNumber         string
	ExistingTaskNumber string
}

func (e *IntegrityError) Error() string {
	if e.ExistingTaskNumber == "" {
		return fmt.Sprintf("verification key %s of task %s already belongs to another task",
			e.VerificationKey, e.TaskNumber)
	}
	return fmt.Sprintf("verification key %s of task %s already belongs to task %s",
		e.VerificationKey, e.TaskNumber, e.ExistingTaskNumber)
}

// ScoringDataError explains why a supplier received a neutral ranking row.
type ScoringDataError struct {
	Supplier string
	Reason   string
}

func (e *ScoringDataError) Error() string {
	return fmt.Sprintf("supplier %s: %s", e.Supplier, e.Reason)
}

// ErrorKind returns a short, stable label for an error, used in run
// summaries and metrics.
func ErrorKind(err error) string {
	var (
		netErr   *NetworkError
		provErr  *ProviderError
		parseErr *ParseError
		intErr   *IntegrityError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &provErr):
		return string(provErr.Kind)
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &intErr):
		return "integrity"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, ErrDuplicateTaskNumber):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal"
}
