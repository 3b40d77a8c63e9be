package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sweeper/internal/types"
)

// JobRepository provides data access for the jobs table. Status transitions
// are guarded in SQL so that a job already moved forward by a competing
// worker cannot be moved back.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository backed by the given database
// connection (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// jobColumns defines the standard set of columns selected for job queries.
// Used consistently across all query methods to avoid column drift.
const jobColumns = `j.id, j.job_type, j.status, j.user_id, j.payload, j.progress,
	j.queue_message_id, j.scheduled_at, j.started_at, j.finished_at, j.created_at`

// scanJob scans a single job row into a types.Job struct. The columns must
// match the order defined in jobColumns.
func scanJob(row pgx.Row) (*types.Job, error) {
	var j types.Job
	var (
		payload        []byte
		progress       []byte
		queueMessageID *string
	)
	err := row.Scan(
		&j.ID,
		&j.Type,
		&j.Status,
		&j.UserID,
		&payload,
		&progress,
		&queueMessageID,
		&j.ScheduledAt,
		&j.StartedAt,
		&j.FinishedAt,
		&j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Progress = progress
	if queueMessageID != nil {
		j.QueueMessageID = *queueMessageID
	}
	return &j, nil
}

// Create inserts a new pending job. When job.ID is empty a fresh UUID is
// assigned. ScheduledAt defaults to the insert time so the dispatcher picks
// the job up on its next scan.
func (r *JobRepository) Create(ctx context.Context, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	if job.ScheduledAt == nil {
		now := time.Now().UTC()
		job.ScheduledAt = &now
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, job_type, status, user_id, payload, progress, scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		job.ID,
		job.Type,
		job.Status,
		job.UserID,
		[]byte(job.Payload),
		[]byte(job.Progress),
		job.ScheduledAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create job", err)
	}
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrCodeNotFoundJob if no job
// exists.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*types.Job, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1`,
		id,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve job", err)
	}
	return j, nil
}

// MarkActive transitions a pending job to active and records the start
// time. Returns ErrCodeConflictJobState when the job is not pending, which
// covers both double delivery and cancellation that raced the worker.
func (r *JobRepository) MarkActive(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = $2, started_at = $3
		 WHERE id = $1 AND status = $4`,
		id, types.JobStatusActive, startedAt.UTC(), types.JobStatusPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictJobState, "job is not pending", nil)
	}
	return nil
}

// MarkFinished transitions an active job to finished.
func (r *JobRepository) MarkFinished(ctx context.Context, id string, finishedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = $2, finished_at = $3
		 WHERE id = $1 AND status = $4`,
		id, types.JobStatusFinished, finishedAt.UTC(), types.JobStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictJobState, "job is not active", nil)
	}
	return nil
}

// MarkCanceled transitions a pending or active job to canceled. Canceling a
// job that already reached a terminal state is a no-op rather than an error
// so that cancellation is idempotent.
func (r *JobRepository) MarkCanceled(ctx context.Context, id string, finishedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = $2, finished_at = $3
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, types.JobStatusCanceled, finishedAt.UTC(), types.JobStatusPending, types.JobStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel job", err)
	}
	return nil
}

// UpdateProgress persists a progress snapshot. progress is marshaled to
// JSON here so handlers work with typed structs.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress any) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job progress", err)
	}
	_, err = r.db.Exec(ctx,
		`UPDATE jobs SET progress = $2 WHERE id = $1`,
		id, raw,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update job progress", err)
	}
	return nil
}

// SetQueueMessageID records the transport handle returned when the job was
// published to its lane.
func (r *JobRepository) SetQueueMessageID(ctx context.Context, id string, messageID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET queue_message_id = $2 WHERE id = $1`,
		id, messageID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record queue message id", err)
	}
	return nil
}

// ResetToPending returns an active job to pending so a queue redelivery can
// pick it up again. The queue handle is kept so the dispatcher does not
// publish a duplicate.
func (r *JobRepository) ResetToPending(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3`,
		id, types.JobStatusPending, types.JobStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset job to pending", err)
	}
	return nil
}

// Reschedule moves a pending job's due time and clears its queue handle so
// the dispatcher publishes it again when due. Used when an account-level
// lock conflict pushes work back.
func (r *JobRepository) Reschedule(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET scheduled_at = $2, queue_message_id = NULL
		 WHERE id = $1 AND status = $3`,
		id, at.UTC(), types.JobStatusPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule job", err)
	}
	return nil
}

// DueJobs returns pending jobs whose scheduled time has passed, oldest
// first, up to limit. The dispatcher publishes these to their lanes.
func (r *JobRepository) DueJobs(ctx context.Context, now time.Time, limit int) ([]*types.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j
		 WHERE j.status = $1 AND j.scheduled_at <= $2 AND j.queue_message_id IS NULL
		 ORDER BY j.scheduled_at ASC
		 LIMIT $3`,
		types.JobStatusPending, now.UTC(), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListByUser returns all jobs owned by a user, newest first.
func (r *JobRepository) ListByUser(ctx context.Context, userID string) ([]*types.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j
		 WHERE j.user_id = $1
		 ORDER BY j.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// FinishedDeleteJobs returns every finished delete job for a user. Their
// progress snapshots are summed into the cumulative totals quoted in
// reminder messages.
func (r *JobRepository) FinishedDeleteJobs(ctx context.Context, userID string) ([]*types.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM jobs j
		 WHERE j.user_id = $1 AND j.job_type = $2 AND j.status = $3
		 ORDER BY j.finished_at ASC`,
		userID, types.JobDelete, types.JobStatusFinished,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list finished delete jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountFinishedDeleteJobs returns how many delete jobs have completed for a
// user. Zero means the next completed delete is the user's first.
func (r *JobRepository) CountFinishedDeleteJobs(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE user_id = $1 AND job_type = $2 AND status = $3`,
		userID, types.JobDelete, types.JobStatusFinished,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count finished delete jobs", err)
	}
	return n, nil
}

func collectJobs(rows pgx.Rows) ([]*types.Job, error) {
	var jobs []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job row", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate job rows", err)
	}
	return jobs, nil
}
