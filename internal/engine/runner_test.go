package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

func pendingJob(id string, jobType types.JobType, userID *string) *types.Job {
	return &types.Job{
		ID:     id,
		Type:   jobType,
		Status: types.JobStatusPending,
		UserID: userID,
	}
}

func TestExecuteDropsUnknownJob(t *testing.T) {
	e, m := newTestEngine(Config{})
	m.jobs.On("GetByID", mock.Anything, "job_gone").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil))

	err := e.Execute(context.Background(), "job_gone")
	assert.NoError(t, err)
}

func TestExecuteDropsTerminalJob(t *testing.T) {
	e, m := newTestEngine(Config{})
	job := pendingJob("job_1", types.JobDM, nil)
	job.Status = types.JobStatusCanceled
	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)

	err := e.Execute(context.Background(), "job_1")
	assert.NoError(t, err)
	m.jobs.AssertNotCalled(t, "MarkActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteReschedulesOnLockConflict(t *testing.T) {
	e, m := newTestEngine(Config{WorkerID: "worker_a"})
	userID := "user_1"
	job := pendingJob("job_1", types.JobFetch, &userID)

	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)
	m.users.On("GetByID", mock.Anything, "user_1").Return(&types.User{ID: "user_1"}, nil)
	m.locks.On("Acquire", mock.Anything, "user_1", "worker_a", mock.Anything).Return(false, nil)
	m.jobs.On("Reschedule", mock.Anything, "job_1", mock.Anything).Return(nil)

	err := e.Execute(context.Background(), "job_1")
	assert.NoError(t, err)
	m.jobs.AssertNotCalled(t, "MarkActive", mock.Anything, mock.Anything, mock.Anything)
	m.jobs.AssertCalled(t, "Reschedule", mock.Anything, "job_1", mock.Anything)
}

func TestExecuteDropsWhenClaimedElsewhere(t *testing.T) {
	e, m := newTestEngine(Config{})
	job := pendingJob("job_1", types.JobDM, nil)

	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)
	m.jobs.On("MarkActive", mock.Anything, "job_1", mock.Anything).
		Return(types.NewAppError(types.ErrCodeConflictJobState, "job is not pending", nil))

	err := e.Execute(context.Background(), "job_1")
	assert.NoError(t, err)
	m.jobs.AssertNotCalled(t, "MarkFinished", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteCancelsOnCancelError(t *testing.T) {
	e, m := newTestEngine(Config{})
	// A dm job with an empty payload cancels inside the handler.
	job := pendingJob("job_1", types.JobDM, nil)

	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)
	m.jobs.On("MarkActive", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.jobs.On("MarkCanceled", mock.Anything, "job_1", mock.Anything).Return(nil)

	err := e.Execute(context.Background(), "job_1")
	assert.NoError(t, err)
	m.jobs.AssertCalled(t, "MarkCanceled", mock.Anything, "job_1", mock.Anything)
}

func TestExecuteResetsToPendingOnFailure(t *testing.T) {
	e, m := newTestEngine(Config{WorkerID: "worker_a"})
	userID := "user_1"
	job := pendingJob("job_1", types.JobFetch, &userID)
	user := &types.User{ID: "user_1", TwitterID: "42", ScreenName: "alice"}

	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)
	m.users.On("GetByID", mock.Anything, "user_1").Return(user, nil)
	m.locks.On("Acquire", mock.Anything, "user_1", "worker_a", mock.Anything).Return(true, nil)
	m.locks.On("Release", mock.Anything, "user_1", "worker_a").Return(nil)
	m.jobs.On("MarkActive", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.client.On("VerifyCredentials", mock.Anything).Return(nil)
	m.client.On("Friendship", mock.Anything, mock.Anything).Return(nil, errors.New("lookup exploded"))
	m.jobs.On("ResetToPending", mock.Anything, "job_1").Return(nil)

	err := e.Execute(context.Background(), "job_1")
	require.Error(t, err)
	m.jobs.AssertCalled(t, "ResetToPending", mock.Anything, "job_1")
	m.locks.AssertCalled(t, "Release", mock.Anything, "user_1", "worker_a")
}

func TestExecuteFinishesSuccessfulJob(t *testing.T) {
	e, m := newTestEngine(Config{})
	payload, err := types.EncodePayload(types.DMJobPayload{DestTwitterID: "99", Message: "hi"})
	require.NoError(t, err)
	job := pendingJob("job_1", types.JobDM, nil)
	job.Payload = payload

	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)
	m.jobs.On("MarkActive", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.sysDM.On("SendDM", mock.Anything, "99", "hi").Return(nil)
	m.jobs.On("MarkFinished", mock.Anything, "job_1", mock.Anything).Return(nil)

	require.NoError(t, e.Execute(context.Background(), "job_1"))
	m.jobs.AssertExpectations(t)
	m.sysDM.AssertExpectations(t)
}

func TestExecutePausedUserCancelsDelete(t *testing.T) {
	e, m := newTestEngine(Config{WorkerID: "worker_a"})
	userID := "user_1"
	job := pendingJob("job_1", types.JobDelete, &userID)
	user := &types.User{ID: "user_1", TwitterID: "42", ScreenName: "alice", Paused: true}

	m.jobs.On("GetByID", mock.Anything, "job_1").Return(job, nil)
	m.users.On("GetByID", mock.Anything, "user_1").Return(user, nil)
	m.locks.On("Acquire", mock.Anything, "user_1", "worker_a", mock.Anything).Return(true, nil)
	m.locks.On("Release", mock.Anything, "user_1", "worker_a").Return(nil)
	m.jobs.On("MarkActive", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.client.On("VerifyCredentials", mock.Anything).Return(nil)
	m.client.On("Friendship", mock.Anything, mock.Anything).
		Return(&twitter.Relationship{Following: true}, nil)
	m.jobs.On("MarkCanceled", mock.Anything, "job_1", mock.Anything).Return(nil)

	require.NoError(t, e.Execute(context.Background(), "job_1"))
	m.jobs.AssertCalled(t, "MarkCanceled", mock.Anything, "job_1", mock.Anything)
}

func TestMutatesHistory(t *testing.T) {
	assert.True(t, mutatesHistory(types.JobFetch))
	assert.True(t, mutatesHistory(types.JobDelete))
	assert.True(t, mutatesHistory(types.JobDeleteDMs))
	assert.True(t, mutatesHistory(types.JobDeleteDMGroups))
	assert.False(t, mutatesHistory(types.JobDM))
	assert.False(t, mutatesHistory(types.JobBlock))
	assert.False(t, mutatesHistory(types.JobUnblock))
}
