package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sweeper/internal/types"
)

// lockConflictDelay is how far a job is pushed back when another worker
// holds the account lock.
const lockConflictDelay = 2 * time.Minute

// Execute runs one job to completion. It owns the status transitions:
// pending jobs become active, then finished or canceled. A handler error
// resets the job to pending and propagates so the queue consumer can retry
// with backoff. Returning nil acknowledges the message.
func (e *Engine) Execute(ctx context.Context, jobID string) error {
	ctx = types.WithJobID(ctx, jobID)
	started := e.now().UTC()

	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundJob {
			e.logger.WarnContext(ctx, "job not found, dropping message", "job_id", jobID)
			return nil
		}
		return err
	}

	if job.Status.Terminal() {
		e.logger.InfoContext(ctx, "job already terminal, dropping message",
			"job_id", jobID,
			"status", string(job.Status),
		)
		return nil
	}

	var user *types.User
	if job.UserID != nil {
		user, err = e.users.GetByID(ctx, *job.UserID)
		if err != nil {
			return err
		}
	}

	// History-mutating jobs hold the account lock for their whole run.
	if user != nil && mutatesHistory(job.Type) {
		acquired, err := e.locks.Acquire(ctx, user.ID, e.cfg.WorkerID, e.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			e.logger.InfoContext(ctx, "account busy, pushing job back",
				"job_id", jobID,
				"user_id", user.ID,
			)
			return e.jobs.Reschedule(ctx, jobID, e.now().Add(lockConflictDelay))
		}
		defer func() {
			if relErr := e.locks.Release(context.WithoutCancel(ctx), user.ID, e.cfg.WorkerID); relErr != nil {
				e.logger.ErrorContext(ctx, "failed to release account lock",
					"user_id", user.ID,
					"error", relErr,
				)
			}
		}()
	}

	if err := e.jobs.MarkActive(ctx, jobID, started); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictJobState {
			e.logger.InfoContext(ctx, "job claimed elsewhere, dropping message", "job_id", jobID)
			return nil
		}
		return err
	}

	e.logger.InfoContext(ctx, "job started",
		"job_id", jobID,
		"job_type", string(job.Type),
	)

	runErr := e.runGuarded(ctx, job, user)
	finished := e.now().UTC()
	elapsed := finished.Sub(started)

	switch {
	case runErr == nil:
		if err := e.jobs.MarkFinished(ctx, jobID, finished); err != nil {
			return err
		}
		e.metrics.RecordJobOutcome(ctx, job.Type, types.JobStatusFinished, elapsed)
		e.logger.InfoContext(ctx, "job finished",
			"job_id", jobID,
			"job_type", string(job.Type),
			"elapsed", elapsed.String(),
		)
		return nil

	case errors.Is(runErr, ErrCancelJob):
		if err := e.jobs.MarkCanceled(ctx, jobID, finished); err != nil {
			return err
		}
		e.metrics.RecordJobOutcome(ctx, job.Type, types.JobStatusCanceled, elapsed)
		e.logger.InfoContext(ctx, "job canceled",
			"job_id", jobID,
			"job_type", string(job.Type),
			"reason", runErr.Error(),
		)
		return nil

	default:
		e.metrics.RecordJobOutcome(ctx, job.Type, types.JobStatusPending, elapsed)
		e.logger.ErrorContext(ctx, "job failed",
			"job_id", jobID,
			"job_type", string(job.Type),
			"error", runErr,
		)
		if resetErr := e.jobs.ResetToPending(context.WithoutCancel(ctx), jobID); resetErr != nil {
			e.logger.ErrorContext(ctx, "failed to reset job to pending",
				"job_id", jobID,
				"error", resetErr,
			)
		}
		return runErr
	}
}

// mutatesHistory reports whether a job type rewrites the account's imported
// history and therefore needs the account lock.
func mutatesHistory(t types.JobType) bool {
	switch t {
	case types.JobFetch, types.JobDelete, types.JobDeleteDMs, types.JobDeleteDMGroups:
		return true
	}
	return false
}

// runGuarded applies the guard pipeline appropriate to the job type, then
// dispatches to the handler.
func (e *Engine) runGuarded(ctx context.Context, job *types.Job, user *types.User) error {
	if err := e.guardStorage(ctx); err != nil {
		return err
	}

	if user != nil && mutatesHistory(job.Type) {
		client := e.clients.ForUser(user)
		if err := e.guardCredentials(ctx, user, client); err != nil {
			return err
		}
		if err := e.guardFollowsUs(ctx, user, client); err != nil {
			return err
		}
	}

	switch job.Type {
	case types.JobFetch:
		return e.runFetch(ctx, job, user)
	case types.JobDelete:
		return e.runDelete(ctx, job, user)
	case types.JobDM:
		return e.runDM(ctx, job)
	case types.JobBlock:
		return e.runBlock(ctx, job)
	case types.JobUnblock:
		return e.runUnblock(ctx, job)
	case types.JobDeleteDMs:
		return e.runDMPurge(ctx, job, user, types.DMExportDirect)
	case types.JobDeleteDMGroups:
		return e.runDMPurge(ctx, job, user, types.DMExportGroups)
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrCancelJob, job.Type)
	}
}
