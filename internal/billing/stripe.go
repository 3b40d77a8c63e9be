// Package billing collects voluntary tips through Stripe and keeps the tips
// table in sync with the provider via webhook events. Tips never gate any
// retention behavior except the monthly reminder message.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"sweeper/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// RetryPolicy configures how many times a failed Stripe call is reissued and
// how long to back off between attempts. Only 429 and 5xx responses are
// retried; card errors and other 4xx are final.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy matches the timeout budget of the ops endpoint that
// fronts tip collection.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// ChargeRequest describes one tip to collect. Source is the tokenized card
// reference produced by Stripe.js on the client.
type ChargeRequest struct {
	UserID      string
	AmountCents int64
	Source      string
}

// Charge is the subset of a Stripe charge the tip flow cares about.
type Charge struct {
	ID          string
	AmountCents int64
	Paid        bool
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // override for tests; defaults to stripeAPIBase
	Retry     RetryPolicy
	Logger    *slog.Logger
}

// StripeClient makes direct form-encoded calls to the Stripe REST API.
// Keeping the HTTP surface explicit makes testing with httptest
// straightforward and avoids dragging the full stripe-go client graph into
// a service that uses exactly one endpoint.
type StripeClient struct {
	client    *http.Client
	secretKey types.SecretString
	baseURL   string
	retry     RetryPolicy
	logger    *slog.Logger
	sleep     func(time.Duration)
}

// NewStripeClient creates a StripeClient. The httpClient should carry a
// timeout of about 20 seconds; Stripe charge creation is synchronous.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.MinWait == 0 {
		retry = DefaultRetryPolicy()
	}
	return &StripeClient{
		client:    httpClient,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		retry:     retry,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// CreateCharge collects a tip by creating a Stripe charge against the
// tokenized source. The user id travels in charge metadata so webhook events
// can be correlated back without a lookup table.
func (s *StripeClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	params.Set("currency", "usd")
	params.Set("source", req.Source)
	params.Set("description", "Sweeper tip")
	params.Set("metadata[user_id]", req.UserID)

	resp, err := s.doPost(ctx, "/v1/charges", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCharge")
	}

	var ch stripeCharge
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe charge response",
			err,
		)
	}

	return &Charge{ID: ch.ID, AmountCents: ch.Amount, Paid: ch.Paid}, nil
}

// doPost performs an authenticated POST with a form-encoded body, retrying
// 429 and 5xx responses per the retry policy.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	var lastStatus int
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			s.sleep(s.backoff(attempt))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				fmt.Sprintf("failed to build Stripe request for %s", path),
				err,
			)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
		req.Header.Set("Stripe-Version", stripe.APIVersion)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WarnContext(ctx, "stripe request failed",
				"path", path,
				"attempt", attempt+1,
				"error", err,
			)
			lastStatus = 0
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			s.logger.WarnContext(ctx, "stripe returned retryable status",
				"path", path,
				"status", resp.StatusCode,
				"attempt", attempt+1,
			)
			continue
		}
		return resp, nil
	}

	if lastStatus == http.StatusTooManyRequests {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("Stripe rate limit exceeded on %s", path),
			nil,
		)
	}
	return nil, types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("Stripe request to %s failed after %d attempts", path, s.retry.MaxRetries+1),
		nil,
	)
}

func (s *StripeClient) backoff(attempt int) time.Duration {
	wait := s.retry.MinWait << (attempt - 1)
	if wait > s.retry.MaxWait {
		wait = s.retry.MaxWait
	}
	return wait
}

// handleErrorResponse reads a Stripe error body and maps it onto the app
// error taxonomy. Card errors keep the Stripe decline detail in the message
// so the caller can surface it.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	if stripeErr.Error.Type == "card_error" {
		return types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("%s: card declined: %s", operation, stripeErr.Error.Message),
			nil,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
	)
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type stripeCharge struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Paid     bool              `json:"paid"`
	Refunded bool              `json:"refunded"`
	Metadata map[string]string `json:"metadata"`
}
