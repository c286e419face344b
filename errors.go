package pkgledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput  = errors.New("pkgledger: invalid input")
	ErrAlreadyExists = errors.New("pkgledger: already exists")

	// Entry errors
	ErrEntryNotFound  = errors.New("pkgledger: package entry not found")
	ErrEntryExpired   = errors.New("pkgledger: package entry expired")
	ErrEntryExhausted = errors.New("pkgledger: package entry has no uses left")

	// Cart errors
	ErrLineNotFound = errors.New("pkgledger: billing line not found")

	// Store errors
	ErrStoreFailure = errors.New("pkgledger: store failure")
	ErrStoreClosed  = errors.New("pkgledger: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("pkgledger: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "pkgledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("pkgledger: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrLineNotFound)
}

// IsRejection returns true if the error is a business refusal (not found,
// expired, exhausted) rather than an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrEntryExpired) ||
		errors.Is(err, ErrEntryExhausted)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreFailure) && !errors.Is(err, ErrStoreClosed)
}

// storeFailure wraps a backend error so that it matches ErrStoreFailure while
// keeping the cause reachable.
func storeFailure(op string, cause error) error {
	if errors.Is(cause, ErrStoreFailure) {
		return cause
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, cause)
}
