package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweeper/internal/types"
)

// --- Mocks ---

type mockDueJobStore struct {
	due       []*types.Job
	dueErr    error
	recorded  map[string]string
	recordErr error
}

func (m *mockDueJobStore) DueJobs(_ context.Context, _ time.Time, _ int) ([]*types.Job, error) {
	return m.due, m.dueErr
}

func (m *mockDueJobStore) SetQueueMessageID(_ context.Context, id string, messageID string) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	if m.recorded == nil {
		m.recorded = make(map[string]string)
	}
	m.recorded[id] = messageID
	return nil
}

type publishCall struct {
	lane  types.Lane
	jobID string
}

type mockPublisher struct {
	calls   []publishCall
	failFor map[string]error
}

func (m *mockPublisher) Enqueue(_ context.Context, lane types.Lane, jobID string, _ string) (string, error) {
	m.calls = append(m.calls, publishCall{lane: lane, jobID: jobID})
	if err := m.failFor[jobID]; err != nil {
		return "", err
	}
	return "msg_" + jobID, nil
}

func newTestDispatcher(store *mockDueJobStore, pub *mockPublisher) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Jobs:      store,
		Publisher: pub,
		Logger:    slog.New(slog.DiscardHandler),
	})
}

// --- Tests ---

func TestLaneForJobType(t *testing.T) {
	assert.Equal(t, types.LaneDMHigh, LaneForJobType(types.JobDM))
	assert.Equal(t, types.LaneDMLow, LaneForJobType(types.JobBlock))
	assert.Equal(t, types.LaneDMLow, LaneForJobType(types.JobUnblock))
	assert.Equal(t, types.LaneJobs, LaneForJobType(types.JobFetch))
	assert.Equal(t, types.LaneJobs, LaneForJobType(types.JobDelete))
	assert.Equal(t, types.LaneJobs, LaneForJobType(types.JobDeleteDMs))
	assert.Equal(t, types.LaneJobs, LaneForJobType(types.JobDeleteDMGroups))
}

func TestDispatchDuePublishesAndRecordsHandles(t *testing.T) {
	store := &mockDueJobStore{due: []*types.Job{
		{ID: "job_1", Type: types.JobFetch},
		{ID: "job_2", Type: types.JobDM},
	}}
	pub := &mockPublisher{}
	d := newTestDispatcher(store, pub)

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.calls, 2)
	assert.Equal(t, publishCall{lane: types.LaneJobs, jobID: "job_1"}, pub.calls[0])
	assert.Equal(t, publishCall{lane: types.LaneDMHigh, jobID: "job_2"}, pub.calls[1])

	assert.Equal(t, "msg_job_1", store.recorded["job_1"])
	assert.Equal(t, "msg_job_2", store.recorded["job_2"])
}

func TestDispatchDueNoJobs(t *testing.T) {
	store := &mockDueJobStore{}
	pub := &mockPublisher{}
	d := newTestDispatcher(store, pub)

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.calls)
}

func TestDispatchDueSkipsJobOnPublishFailure(t *testing.T) {
	store := &mockDueJobStore{due: []*types.Job{
		{ID: "job_1", Type: types.JobFetch},
		{ID: "job_2", Type: types.JobFetch},
	}}
	pub := &mockPublisher{failFor: map[string]error{"job_1": fmt.Errorf("queue down")}}
	d := newTestDispatcher(store, pub)

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The failed job has no handle recorded and stays due for the next scan.
	_, ok := store.recorded["job_1"]
	assert.False(t, ok)
	assert.Equal(t, "msg_job_2", store.recorded["job_2"])
}

func TestDispatchDueToleratesHandleRecordFailure(t *testing.T) {
	store := &mockDueJobStore{
		due:       []*types.Job{{ID: "job_1", Type: types.JobFetch}},
		recordErr: fmt.Errorf("db down"),
	}
	pub := &mockPublisher{}
	d := newTestDispatcher(store, pub)

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchDuePropagatesScanError(t *testing.T) {
	store := &mockDueJobStore{dueErr: fmt.Errorf("db down")}
	d := newTestDispatcher(store, &mockPublisher{})

	_, err := d.DispatchDue(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &mockDueJobStore{}
	d := NewDispatcher(DispatcherConfig{
		Jobs:      store,
		Publisher: &mockPublisher{},
		Interval:  time.Millisecond,
		Logger:    slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
