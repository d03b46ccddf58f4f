package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Error wraps a provider failure with the operation that produced it and
// whether retrying could succeed.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates a new Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err (or any error it wraps) is a retryable
// provider error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// isRetryableMessage checks if an error message indicates a transient error.
func isRetryableMessage(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	return strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "overloaded") ||
		strings.Contains(errLower, "503") ||
		strings.Contains(errLower, "529")
}
