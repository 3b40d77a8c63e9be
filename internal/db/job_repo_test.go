package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/types"
)

func scanJobRow(id string, jobType types.JobType, status types.JobStatus) func(dest ...any) error {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*types.JobType) = jobType
		*dest[2].(*types.JobStatus) = status
		*dest[3].(**string) = nil            // user_id
		*dest[4].(*[]byte) = nil             // payload
		*dest[5].(*[]byte) = nil             // progress
		*dest[6].(**string) = nil            // queue_message_id
		*dest[7].(**time.Time) = &created    // scheduled_at
		*dest[8].(**time.Time) = nil         // started_at
		*dest[9].(**time.Time) = nil         // finished_at
		*dest[10].(*time.Time) = created     // created_at
		return nil
	}
}

func TestJobRepository_Create_AssignsIDAndDefaults(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	job := &types.Job{Type: types.JobFetch}
	err := repo.Create(context.Background(), job)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.JobStatusPending, job.Status)
	require.NotNil(t, job.ScheduledAt)
	db.AssertExpectations(t)
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"job_missing"}).Return(row)

	_, err := repo.GetByID(context.Background(), "job_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundJob, appErr.Code)
}

func TestJobRepository_MarkActive_GuardsPendingStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{"job_1", types.JobStatusActive, started, types.JobStatusPending}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkActive(context.Background(), "job_1", started))
	db.AssertExpectations(t)
}

func TestJobRepository_MarkActive_ConflictWhenNotPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkActive(context.Background(), "job_1", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictJobState, appErr.Code)
}

func TestJobRepository_MarkCanceled_IdempotentOnTerminalJobs(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	// Zero rows affected means the job already reached a terminal state.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	require.NoError(t, repo.MarkCanceled(context.Background(), "job_done", time.Now()))
}

func TestJobRepository_UpdateProgress_MarshalsSnapshot(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	progress := types.DeleteProgress{TweetsDeleted: 12, Status: "deleting"}
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		mock.MatchedBy(func(args []any) bool {
			raw, ok := args[1].([]byte)
			return ok && args[0] == "job_1" && len(raw) > 0
		})).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.UpdateProgress(context.Background(), "job_1", progress))
	db.AssertExpectations(t)
}

func TestJobRepository_DueJobs_ReturnsScan(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	rows := newMockRows(
		scanJobRow("job_a", types.JobFetch, types.JobStatusPending),
		scanJobRow("job_b", types.JobDelete, types.JobStatusPending),
	)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	jobs, err := repo.DueJobs(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job_a", jobs[0].ID)
	assert.Equal(t, types.JobDelete, jobs[1].Type)
}

func TestJobRepository_FinishedDeleteJobs_FiltersTypeAndStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)

	rows := newMockRows(scanJobRow("job_d", types.JobDelete, types.JobStatusFinished))
	db.On("Query", mock.Anything, mock.AnythingOfType("string"),
		[]any{"user_1", types.JobDelete, types.JobStatusFinished}).
		Return(rows, nil)

	jobs, err := repo.FinishedDeleteJobs(context.Background(), "user_1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	db.AssertExpectations(t)
}
