package errors

import (
	"errors"
	"fmt"
)

// Common error types for categorization and handling

var (
	// ErrNotFound indicates a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid or too-short user input
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvider indicates the embedding or completion provider failed
	// (network error, non-2xx status, quota or rate limit)
	ErrProvider = errors.New("provider request failed")

	// ErrMalformedOutput indicates the provider returned text that could not
	// be parsed into the expected structure
	ErrMalformedOutput = errors.New("malformed provider output")

	// ErrDatabaseOperation indicates a database operation failed
	ErrDatabaseOperation = errors.New("database operation failed")
)

// WrapError wraps an error with context message and stack
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsProvider checks if error came from the embedding/completion provider
func IsProvider(err error) bool {
	return errors.Is(err, ErrProvider)
}

// IsMalformedOutput checks if error is a malformed provider output error
func IsMalformedOutput(err error) bool {
	return errors.Is(err, ErrMalformedOutput)
}
