package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/billing"
	"sweeper/internal/types"
)

func newTestWebhookHandler() (*StripeWebhookHandler, *mockEventProcessor, *mockPayloadVerifier) {
	processor := &mockEventProcessor{}
	verifier := &mockPayloadVerifier{}
	h := NewStripeWebhookHandler(processor, verifier, types.SecretString("whsec_test"), testLogger())
	return h, processor, verifier
}

func postWebhook(t *testing.T, h *StripeWebhookHandler, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ValidEvent(t *testing.T) {
	h, processor, verifier := newTestWebhookHandler()

	payload := `{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`
	verifier.On("Verify", []byte(payload), "sig", types.SecretString("whsec_test")).Return(nil)
	processor.On("ProcessEvent", mock.Anything, mock.MatchedBy(func(e *billing.WebhookEvent) bool {
		return e.ID == "evt_1" && e.Type == billing.EventChargeSucceeded && e.ChargeID() == "ch_1"
	})).Return(nil)

	rec := postWebhook(t, h, payload, "sig")

	require.Equal(t, http.StatusOK, rec.Code)
	processor.AssertExpectations(t)
}

func TestWebhook_BadSignature(t *testing.T) {
	h, processor, verifier := newTestWebhookHandler()

	verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("signature mismatch"))

	rec := postWebhook(t, h, `{"id":"evt_1"}`, "bad-sig")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	processor.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	h, processor, verifier := newTestWebhookHandler()

	verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec := postWebhook(t, h, `{not json`, "sig")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	processor.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything)
}

func TestWebhook_ProcessingFailureStillAcknowledged(t *testing.T) {
	h, processor, verifier := newTestWebhookHandler()

	verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	processor.On("ProcessEvent", mock.Anything, mock.Anything).
		Return(types.NewAppError(types.ErrCodeInternalDB, "update failed", nil))

	rec := postWebhook(t, h, `{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`, "sig")

	assert.Equal(t, http.StatusOK, rec.Code)
}
