package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/types"
)

func newTestTipHandler() (*TipHandler, *mockTipCollector, *mockTipListStore) {
	tips := &mockTipCollector{}
	history := &mockTipListStore{}
	return NewTipHandler(tips, history, testValidator(), testLogger()), tips, history
}

func TestCheckout(t *testing.T) {
	h, tips, _ := newTestTipHandler()

	tips.On("Collect", mock.Anything, "user_1", int64(500), "tok_visa").
		Return(&types.Tip{ID: 1, UserID: "user_1", ChargeID: "ch_1", AmountCents: 500}, nil)

	rec := mountAndServe(t, h.RegisterRoutes, http.MethodPost, "/tips/checkout", map[string]any{
		"user_id":      "user_1",
		"amount_cents": 500,
		"source":       "tok_visa",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var got types.Tip
	require.NoError(t, json.Unmarshal(dataField(t, rec), &got))
	assert.Equal(t, "ch_1", got.ChargeID)
	tips.AssertExpectations(t)
}

func TestCheckout_RejectsInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing user", map[string]any{"amount_cents": 500, "source": "tok_visa"}},
		{"missing source", map[string]any{"user_id": "user_1", "amount_cents": 500}},
		{"below minimum", map[string]any{"user_id": "user_1", "amount_cents": 50, "source": "tok_visa"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, tips, _ := newTestTipHandler()

			rec := mountAndServe(t, h.RegisterRoutes, http.MethodPost, "/tips/checkout", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			tips.AssertNotCalled(t, "Collect", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCheckout_CardDeclined(t *testing.T) {
	h, tips, _ := newTestTipHandler()

	tips.On("Collect", mock.Anything, "user_1", int64(500), "tok_chargeDeclined").
		Return(nil, types.NewAppError(types.ErrCodeValidationInvalidBody, "card declined: insufficient funds", nil))

	rec := mountAndServe(t, h.RegisterRoutes, http.MethodPost, "/tips/checkout", map[string]any{
		"user_id":      "user_1",
		"amount_cents": 500,
		"source":       "tok_chargeDeclined",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidBody), errorCode(t, rec))
}

func TestListTips(t *testing.T) {
	h, _, history := newTestTipHandler()

	history.On("ListTips", mock.Anything, "user_1").Return([]*types.Tip{
		{ID: 2, UserID: "user_1", ChargeID: "ch_2", AmountCents: 500, Paid: true, Timestamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 1, UserID: "user_1", ChargeID: "ch_1", AmountCents: 300, Paid: true, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}, nil)

	rec := mountAndServe(t, h.RegisterRoutes, http.MethodGet, "/tips?user_id=user_1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []*types.Tip
	require.NoError(t, json.Unmarshal(dataField(t, rec), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "ch_2", got[0].ChargeID)
}

func TestListTips_RequiresUserID(t *testing.T) {
	h, _, _ := newTestTipHandler()

	rec := mountAndServe(t, h.RegisterRoutes, http.MethodGet, "/tips", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rec))
}
