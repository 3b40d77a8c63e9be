package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/billing"
	"sweeper/internal/core"
	"sweeper/internal/types"
)

// Shared test doubles and helpers for the handler tests.

type mockJobStore struct{ mock.Mock }

func (m *mockJobStore) Create(ctx context.Context, job *types.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockJobStore) GetByID(ctx context.Context, id string) (*types.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Job), args.Error(1)
}

func (m *mockJobStore) ListByUser(ctx context.Context, userID string) ([]*types.Job, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Job), args.Error(1)
}

func (m *mockJobStore) MarkCanceled(ctx context.Context, id string, finishedAt time.Time) error {
	return m.Called(ctx, id, finishedAt).Error(0)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

type mockUnblockChecker struct{ mock.Mock }

func (m *mockUnblockChecker) UnblockEligible(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockTipCollector struct{ mock.Mock }

func (m *mockTipCollector) Collect(ctx context.Context, userID string, amountCents int64, source string) (*types.Tip, error) {
	args := m.Called(ctx, userID, amountCents, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Tip), args.Error(1)
}

type mockTipListStore struct{ mock.Mock }

func (m *mockTipListStore) ListTips(ctx context.Context, userID string) ([]*types.Tip, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Tip), args.Error(1)
}

type mockEventProcessor struct{ mock.Mock }

func (m *mockEventProcessor) ProcessEvent(ctx context.Context, event *billing.WebhookEvent) error {
	return m.Called(ctx, event).Error(0)
}

type mockPayloadVerifier struct{ mock.Mock }

func (m *mockPayloadVerifier) Verify(payload []byte, header string, secret types.SecretString) error {
	return m.Called(payload, header, secret).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

// mountAndServe registers the handler's routes on a fresh router and runs
// one request through it.
func mountAndServe(t *testing.T, register func(chi.Router), method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	register(router)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}
