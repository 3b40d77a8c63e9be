package twitter

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is returned when the API signals a rate limit (HTTP 429).
// RetryAfter is computed from the x-rate-limit-reset header; when the server
// provides no hint it defaults to DefaultRateLimitWait. RetryAfter may be
// negative if the reset hint is already in the past.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

// DefaultRateLimitWait is used when a 429 response carries no reset hint.
const DefaultRateLimitWait = 60 * time.Second

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("twitter: rate limited on %s, retry after %s", e.Endpoint, e.RetryAfter)
}

// TransientError is returned for server-side failures (5xx) and network
// errors that are expected to clear on their own.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("twitter: transient error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AuthError is returned when the API rejects the credentials (HTTP 401).
// Guards treat this as a terminal precondition failure: the owning account
// is paused and the job canceled.
type AuthError struct {
	Endpoint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("twitter: unauthorized on %s", e.Endpoint)
}

// StatusError is returned for client errors (4xx) that are not rate limits
// or credential failures. The status code lets callers tell "already gone"
// (404, 403) apart from genuinely broken requests.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitter: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError, returning
// it when found.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
