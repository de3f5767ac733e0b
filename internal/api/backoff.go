package api

import (
	"net/http"
	"strconv"
	"time"
)

// backoffPolicy computes retry delays for HTTP 429 responses.
//
// The delay for attempt n (0-based) is Base << n, so with the default
// 1 second base the sequence is 1s, 2s, 4s, 8s, 16s. A Retry-After header
// on the response overrides the computed delay entirely.
type backoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// MaxRetries is how many retries are attempted before the 429
	// propagates to the caller as ErrRateLimited.
	MaxRetries int
}

func defaultBackoff() backoffPolicy {
	return backoffPolicy{
		Base:       time.Second,
		MaxRetries: 5,
	}
}

// Delay returns how long to wait before retry number `retries` (0-based).
// retryAfter is the raw Retry-After header value, or "" if absent. Per
// RFC 9110 the header is either a delay in seconds or an HTTP date; both
// forms are honored, with the computed exponential delay as fallback.
func (p backoffPolicy) Delay(retries int, retryAfter string, now time.Time) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if target, err := http.ParseTime(retryAfter); err == nil {
			if d := target.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return p.Base << retries
}
