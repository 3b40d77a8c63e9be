package twitter

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"sweeper/internal/types"
)

// baseClient wraps an *http.Client and a circuit breaker for all outbound
// API calls. Unlike a generic resilient client it performs NO retries:
// 429 and 5xx are mapped to typed errors and surfaced to the engine, whose
// rate-limit-aware caller owns the wait-and-reissue loop. Retrying both
// here and there would multiply waits.
type baseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
	now       func() time.Time // injectable clock for reset-hint math
}

// newBaseClient creates a baseClient with a breaker tuned for a paginating
// workload: the breaker opens only after a sustained run of hard failures,
// and 429s do not count against it (they are expected steady-state).
func newBaseClient(httpClient *http.Client, breakerName, userAgent string) *baseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &baseClient{
		client:    httpClient,
		breaker:   cb,
		userAgent: userAgent,
		now:       time.Now,
	}
}

// do executes the request and maps the response status onto the engine's
// error taxonomy. On success the response is returned with its body open;
// the caller closes it. endpoint is a short label ("statuses/user_timeline")
// used in error messages and logs.
func (c *baseClient) do(req *http.Request, endpoint string) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// Only 5xx counts toward tripping the breaker.
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("upstream returned %d", r.StatusCode)
		}
		return r, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransientError{Endpoint: endpoint, Err: err}
		}
		if resp != nil {
			resp.Body.Close()
			return nil, &TransientError{
				Endpoint: endpoint,
				Err:      fmt.Errorf("upstream returned %d", resp.StatusCode),
			}
		}
		// Network-level failure (DNS, connection reset, timeout).
		return nil, &TransientError{Endpoint: endpoint, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := c.rateLimitWait(resp)
		resp.Body.Close()
		return nil, &RateLimitError{Endpoint: endpoint, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, &AuthError{Endpoint: endpoint}
	case resp.StatusCode >= 400:
		body := readErrorBody(resp)
		resp.Body.Close()
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: body}
	}

	return resp, nil
}

// rateLimitWait computes the wait duration from the x-rate-limit-reset
// header (epoch seconds). Without a usable hint it returns
// DefaultRateLimitWait. A hint in the past yields a negative duration; the
// engine clamps it.
func (c *baseClient) rateLimitWait(resp *http.Response) time.Duration {
	reset := resp.Header.Get("x-rate-limit-reset")
	if reset == "" {
		return DefaultRateLimitWait
	}
	epoch, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return DefaultRateLimitWait
	}
	return time.Unix(epoch, 0).Sub(c.now())
}
