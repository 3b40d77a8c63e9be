package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweeper/internal/types"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(rec, req, http.StatusCreated, APIResponse{Data: map[string]string{"id": "job_1"}})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"id":"job_1"}}`, rec.Body.String())
}

func TestError_AppErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			"not found",
			types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil),
			http.StatusNotFound,
			"not_found_job",
		},
		{
			"validation",
			types.NewAppError(types.ErrCodeValidationInvalidBody, "bad body", nil),
			http.StatusBadRequest,
			"validation_invalid_body",
		},
		{
			"auth",
			types.NewAppError(types.ErrCodeAuthKeyInvalid, "bad key", nil),
			http.StatusUnauthorized,
			"auth_key_invalid",
		},
		{
			"conflict",
			types.NewAppError(types.ErrCodeConflictJobState, "already active", nil),
			http.StatusConflict,
			"conflict_job_state",
		},
		{
			"rate limited upstream",
			types.NewAppError(types.ErrCodeUpstreamRateLimited, "slow down", nil),
			http.StatusTooManyRequests,
			"upstream_rate_limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			Error(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeErrorBody(t, rec)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestError_WrappedAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	Error(rec, req, errors.Join(errors.New("outer"), inner))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestError_GenericErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(rec, req, errors.New("pq: connection refused at 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorBody(t, rec)
	assert.Equal(t, "internal_unexpected_error", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "10.0.0.5")
}

func TestError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req_abc"))

	Error(rec, req, types.NewAppError(types.ErrCodeNotFoundJob, "nope", nil))

	resp := decodeErrorBody(t, rec)
	assert.Equal(t, "req_abc", resp.Error.RequestID)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		UserID  string `json:"user_id"`
		JobType string `json:"job_type"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"user_id":"u1","job_type":"fetch"}`, ""},
		{"empty body", ``, "must not be empty"},
		{"malformed", `{"user_id":`, "malformed JSON"},
		{"unknown field", `{"user_id":"u1","bogus":true}`, "unknown field"},
		{"two documents", `{"user_id":"u1"}{"user_id":"u2"}`, "single JSON object"},
		{"type mismatch", `{"user_id":42}`, "invalid value for field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst payload
			err := DecodeJSON(rec, req, &dst)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "u1", dst.UserID)
				return
			}

			require.Error(t, err)
			appErr, ok := err.(*types.AppError)
			require.True(t, ok)
			assert.Equal(t, types.ErrCodeValidationInvalidBody, appErr.Code)
			assert.Contains(t, appErr.Message, tt.wantErr)
		})
	}
}
