package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// RateLimitError is an upstream over-capacity signal (HTTP 429, or 529 for
// Anthropic's overloaded response). The retry layer branches on this type.
type RateLimitError struct {
	StatusCode int
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %v", e.StatusCode, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransportError is any other network or HTTP failure. It is never retried
// by the orchestration core.
type TransportError struct {
	StatusCode int // 0 when the failure happened below HTTP
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// statusAnthropicOverloaded is Anthropic's non-standard over-capacity code.
const statusAnthropicOverloaded = 529

// classifyStatus wraps err according to the HTTP status code of the failed
// call. Context cancellation is passed through untouched so callers can
// distinguish user aborts from upstream failures.
func classifyStatus(statusCode int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch statusCode {
	case http.StatusTooManyRequests, statusAnthropicOverloaded:
		return &RateLimitError{StatusCode: statusCode, Err: err}
	default:
		return &TransportError{StatusCode: statusCode, Err: err}
	}
}
