package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"sweeper/internal/types"
)

// minTipCents is the smallest accepted tip. Stripe's own minimum for USD
// charges is 50 cents; a dollar keeps fee overhead sane.
const minTipCents = 100

// TipStore is the subset of BillingRepository the tip flow needs.
type TipStore interface {
	CreateTip(ctx context.Context, t *types.Tip) error
	MarkTipPaid(ctx context.Context, chargeID string) error
	MarkTipRefunded(ctx context.Context, chargeID string) error
}

// ChargeCreator collects a payment with the provider.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// TipService orchestrates tip collection: it charges the card through
// Stripe, records the attempt in the tips table, and applies the webhook
// events that later settle or reverse the charge.
type TipService struct {
	stripe ChargeCreator
	tips   TipStore
	logger *slog.Logger
	now    func() time.Time
}

// NewTipService creates a TipService.
func NewTipService(stripe ChargeCreator, tips TipStore, logger *slog.Logger) *TipService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TipService{
		stripe: stripe,
		tips:   tips,
		logger: logger,
		now:    time.Now,
	}
}

// Collect charges the tokenized source and records the tip. The paid flag is
// taken from the charge response; the charge.succeeded webhook confirms it
// again, which is a harmless no-op when the synchronous path already saw it.
func (s *TipService) Collect(ctx context.Context, userID string, amountCents int64, source string) (*types.Tip, error) {
	if userID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "user_id is required", nil)
	}
	if source == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "source is required", nil)
	}
	if amountCents < minTipCents {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			fmt.Sprintf("amount_cents must be at least %d", minTipCents),
			nil,
		)
	}

	ch, err := s.stripe.CreateCharge(ctx, ChargeRequest{
		UserID:      userID,
		AmountCents: amountCents,
		Source:      source,
	})
	if err != nil {
		return nil, err
	}

	tip := &types.Tip{
		UserID:      userID,
		ChargeID:    ch.ID,
		AmountCents: ch.AmountCents,
		Paid:        ch.Paid,
		Timestamp:   s.now().UTC(),
	}
	if err := s.tips.CreateTip(ctx, tip); err != nil {
		// The charge went through but the row is missing. Surface the error;
		// the charge id in the log is enough to reconcile by hand.
		s.logger.ErrorContext(ctx, "charge succeeded but tip row was not recorded",
			"user_id", userID,
			"charge_id", ch.ID,
			"amount_cents", ch.AmountCents,
			"error", err,
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "tip collected",
		"user_id", userID,
		"charge_id", ch.ID,
		"amount_cents", ch.AmountCents,
		"paid", ch.Paid,
	)
	return tip, nil
}

// Stripe event types the tip flow reacts to. Everything else is acknowledged
// and ignored.
const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeRefunded  = "charge.refunded"
)

// WebhookEvent is a minimal view of a Stripe event, just enough to route by
// type and pull out the charge id. Avoiding the full stripe.Event type keeps
// webhook handling decoupled from the library's object graph.
type WebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type webhookEventData struct {
	Object json.RawMessage `json:"object"`
}

// ChargeID extracts the charge id from the event payload, or "" when the
// payload does not carry one.
func (e *WebhookEvent) ChargeID() string {
	var data webhookEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}
	var ch stripeCharge
	if err := json.Unmarshal(data.Object, &ch); err != nil {
		return ""
	}
	return ch.ID
}

// ProcessEvent applies a verified webhook event to the tips table.
// charge.succeeded marks the tip paid and charge.refunded marks it refunded.
// A missing tip row is logged and swallowed: failing the webhook would only
// make Stripe retry an event we can never apply.
func (s *TipService) ProcessEvent(ctx context.Context, event *WebhookEvent) error {
	switch event.Type {
	case EventChargeSucceeded:
		return s.applyChargeEvent(ctx, event, s.tips.MarkTipPaid, "paid")
	case EventChargeRefunded:
		return s.applyChargeEvent(ctx, event, s.tips.MarkTipRefunded, "refunded")
	default:
		s.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}
}

func (s *TipService) applyChargeEvent(
	ctx context.Context,
	event *WebhookEvent,
	mark func(context.Context, string) error,
	flag string,
) error {
	chargeID := event.ChargeID()
	if chargeID == "" {
		return fmt.Errorf("%s: missing charge id in event %s", event.Type, event.ID)
	}

	if err := mark(ctx, chargeID); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundTip {
			s.logger.WarnContext(ctx, "webhook event references unknown charge",
				"event_id", event.ID,
				"event_type", event.Type,
				"charge_id", chargeID,
			)
			return nil
		}
		return err
	}

	s.logger.InfoContext(ctx, "tip state updated from webhook",
		"event_id", event.ID,
		"charge_id", chargeID,
		"flag", flag,
	)
	return nil
}

// SignatureVerifier validates Stripe webhook payloads using stripe-go's
// HMAC-SHA256 check with timestamp tolerance.
type SignatureVerifier struct{}

// Verify checks the Stripe-Signature header against the signing secret.
func (SignatureVerifier) Verify(payload []byte, header string, secret types.SecretString) error {
	return webhook.ValidatePayload(payload, header, secret.Unmask())
}
