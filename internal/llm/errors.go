package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ProviderError wraps an LLM call failure with a retryability verdict.
// Transient network faults, rate limits, and server errors are
// retryable; malformed requests and auth failures are not.
type ProviderError struct {
	Err       error
	Status    int // HTTP status when known, else 0
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("llm provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an error is a retryable provider
// failure. Errors that are not ProviderErrors are never retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// classifyError converts a raw provider failure into a ProviderError.
// Already-classified errors pass through unchanged.
func classifyError(err error, status int) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	retryable := false
	switch {
	case status == 408 || status == 429:
		retryable = true
	case status >= 500:
		retryable = true
	case status > 0:
		// Remaining 4xx: client bug, retrying cannot help.
	case errors.Is(err, context.DeadlineExceeded):
		retryable = true
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			retryable = true
		}
	}

	return &ProviderError{Err: err, Status: status, Retryable: retryable}
}
