// Package handlers implements the sweeper ops API endpoints: manual job
// triggers, job inspection for dashboards, tip collection, and the Stripe
// webhook receiver.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sweeper/internal/core"
	"sweeper/internal/types"
)

// JobStore is the job persistence surface the handler needs. Mirrors the
// concrete db.JobRepository methods used here.
type JobStore interface {
	Create(ctx context.Context, job *types.Job) error
	GetByID(ctx context.Context, id string) (*types.Job, error)
	ListByUser(ctx context.Context, userID string) ([]*types.Job, error)
	MarkCanceled(ctx context.Context, id string, finishedAt time.Time) error
}

// UserStore resolves accounts referenced by manually triggered jobs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// UnblockChecker gates manual unblock triggers on the flagged-like policy.
type UnblockChecker interface {
	UnblockEligible(ctx context.Context, userID string) (bool, error)
}

// CreateJobRequest is the request body for POST /v1/jobs. Payload is the
// workflow-specific input and is validated per job type.
type CreateJobRequest struct {
	JobType string `json:"job_type" validate:"required,oneof=fetch delete dm block unblock delete_dms delete_dm_groups"`
	UserID  string `json:"user_id,omitempty"`

	// DM jobs.
	DestTwitterID string `json:"dest_twitter_id,omitempty"`
	Message       string `json:"message,omitempty"`

	// Block and unblock jobs.
	TwitterUsername string `json:"twitter_username,omitempty"`
	TwitterID       string `json:"twitter_id,omitempty"`
}

// JobHandler exposes manual job triggers and job inspection. Created jobs
// are persisted as pending and due immediately; the dispatcher publishes
// them on its next cycle, so this handler never touches the queues.
type JobHandler struct {
	jobs      JobStore
	users     UserStore
	unblock   UnblockChecker
	validator *core.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs JobStore, users UserStore, unblock UnblockChecker, v *core.Validator, l *slog.Logger) *JobHandler {
	if l == nil {
		l = slog.Default()
	}
	return &JobHandler{
		jobs:      jobs,
		users:     users,
		unblock:   unblock,
		validator: v,
		logger:    l,
		now:       time.Now,
	}
}

// RegisterRoutes mounts the job routes on the provided router.
func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/cancel", h.Cancel)
		})
	})
}

// Create handles POST /v1/jobs. The job is persisted as pending with an
// immediate due time and picked up by the dispatcher.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	jobType := types.JobType(req.JobType)

	job, err := h.buildJob(r.Context(), jobType, &req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.jobs.Create(r.Context(), job); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "job created by manual trigger",
		"job_id", job.ID,
		"job_type", jobType,
	)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: job})
}

// buildJob validates the type-specific input and assembles the pending job
// row.
func (h *JobHandler) buildJob(ctx context.Context, jobType types.JobType, req *CreateJobRequest) (*types.Job, error) {
	now := h.now().UTC()
	job := &types.Job{
		Type:        jobType,
		Status:      types.JobStatusPending,
		ScheduledAt: &now,
	}

	switch jobType {
	case types.JobFetch, types.JobDelete, types.JobDeleteDMs, types.JobDeleteDMGroups:
		if req.UserID == "" {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"user_id is required for "+string(jobType)+" jobs",
				nil,
			)
		}
		if _, err := h.users.GetByID(ctx, req.UserID); err != nil {
			return nil, err
		}
		job.UserID = &req.UserID

	case types.JobDM:
		if req.DestTwitterID == "" || req.Message == "" {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"dest_twitter_id and message are required for dm jobs",
				nil,
			)
		}
		payload, err := types.EncodePayload(types.DMJobPayload{
			DestTwitterID: req.DestTwitterID,
			Message:       req.Message,
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job payload", err)
		}
		job.Payload = payload

	case types.JobBlock, types.JobUnblock:
		if req.TwitterID == "" {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"twitter_id is required for "+string(jobType)+" jobs",
				nil,
			)
		}

		blockPayload := types.BlockJobPayload{
			TwitterUsername: req.TwitterUsername,
			TwitterID:       req.TwitterID,
		}
		if req.UserID != "" {
			if _, err := h.users.GetByID(ctx, req.UserID); err != nil {
				return nil, err
			}
			blockPayload.UserID = &req.UserID
			job.UserID = &req.UserID
		}

		if jobType == types.JobUnblock && req.UserID != "" {
			ok, err := h.unblock.UnblockEligible(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, types.NewAppError(
					types.ErrCodeConflictJobState,
					"account is still over the flagged-like limit and may not be unblocked",
					nil,
				)
			}
		}

		payload, err := types.EncodePayload(blockPayload)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job payload", err)
		}
		job.Payload = payload

	default:
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidJob,
			"unknown job type: "+string(jobType),
			nil,
		)
	}

	return job, nil
}

// List handles GET /v1/jobs?user_id=. Returns the account's jobs newest
// first, including progress snapshots for dashboard display.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"user_id query parameter is required",
			nil,
		))
		return
	}

	jobs, err := h.jobs.ListByUser(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: jobs})
}

// Get handles GET /v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"job id is required",
			nil,
		))
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: job})
}

// Cancel handles POST /v1/jobs/{id}/cancel. Cancellation is advisory: a
// worker already executing the job checks the flag at its next suspension
// point, so an active job may still finish its current item.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"job id is required",
			nil,
		))
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if job.Status.Terminal() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictJobState,
			"job is already "+string(job.Status),
			nil,
		))
		return
	}

	now := h.now().UTC()
	if err := h.jobs.MarkCanceled(r.Context(), id, now); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "job canceled by manual trigger", "job_id", id)

	job.Status = types.JobStatusCanceled
	job.FinishedAt = &now
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: job})
}
