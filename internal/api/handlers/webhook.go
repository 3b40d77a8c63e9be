package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sweeper/internal/billing"
	"sweeper/internal/core"
	"sweeper/internal/types"
)

// maxWebhookBodySize bounds webhook payloads. Stripe events are small;
// anything larger is rejected before signature verification.
const maxWebhookBodySize = 64 * 1024

// EventProcessor applies a verified Stripe event to the tips ledger.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *billing.WebhookEvent) error
}

// PayloadVerifier checks a webhook payload against its Stripe-Signature
// header.
type PayloadVerifier interface {
	Verify(payload []byte, header string, secret types.SecretString) error
}

// StripeWebhookHandler receives Stripe events. It is mounted outside the
// admin key group; the signature check is its authentication.
type StripeWebhookHandler struct {
	processor EventProcessor
	verifier  PayloadVerifier
	secret    types.SecretString
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(processor EventProcessor, verifier PayloadVerifier, secret types.SecretString, l *slog.Logger) *StripeWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &StripeWebhookHandler{
		processor: processor,
		verifier:  verifier,
		secret:    secret,
		logger:    l,
	}
}

// RegisterRoutes mounts the webhook route on the provided router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes POST /webhooks/stripe. Processing failures after a valid
// signature are logged and acknowledged with 200 so Stripe does not retry a
// payload the ledger has already rejected deliberately.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"failed to read webhook body",
			err,
		))
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"), h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event billing.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"failed to parse webhook event",
			err,
		))
		return
	}

	if err := h.processor.ProcessEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"received": true}})
}
