package api

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned after the backoff policy has exhausted its
// retries against HTTP 429 responses. It is fatal for the current run.
var ErrRateLimited = errors.New("rate limited by remote API")

// StatusError represents a non-429 HTTP error response. These are never
// retried: the call fails immediately and the error propagates to the
// coordinator.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote API error: %s", e.Status)
	}
	return fmt.Sprintf("remote API error: %s (%s)", e.Status, e.Body)
}
