// Package scheduler publishes due jobs onto their lane queues. The
// dispatcher is the only queue producer: handlers and the API create job
// rows with a scheduled time, and the dispatcher turns them into messages
// once that time arrives. Keeping a single producer makes republish-after-
// reschedule safe, because a job with a recorded queue message id is never
// published again.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"sweeper/internal/types"
)

// DueJobStore is the jobs-table surface the dispatcher consumes.
type DueJobStore interface {
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*types.Job, error)
	SetQueueMessageID(ctx context.Context, id string, messageID string) error
}

// JobPublisher sends one job reference to a lane queue.
type JobPublisher interface {
	Enqueue(ctx context.Context, lane types.Lane, jobID string, reason string) (string, error)
}

// defaultInterval is how often the dispatcher scans for due jobs.
const defaultInterval = 15 * time.Second

// defaultBatchSize bounds how many jobs one scan publishes.
const defaultBatchSize = 100

// LaneForJobType routes a job type to its lane. Notification sends get the
// high-priority DM lane so they are never starved behind bulk deletion
// work; block and unblock jobs carry long pauses and go to the low lane.
func LaneForJobType(t types.JobType) types.Lane {
	switch t {
	case types.JobDM:
		return types.LaneDMHigh
	case types.JobBlock, types.JobUnblock:
		return types.LaneDMLow
	default:
		return types.LaneJobs
	}
}

// Dispatcher scans for due jobs and publishes them.
type Dispatcher struct {
	jobs      DueJobStore
	publisher JobPublisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	now func() time.Time
}

// DispatcherConfig holds the configuration for creating a Dispatcher.
type DispatcherConfig struct {
	Jobs      DueJobStore
	Publisher JobPublisher
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Interval defaults to 15 seconds and
// BatchSize to 100.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		jobs:      cfg.Jobs,
		publisher: cfg.Publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Run scans on a fixed interval until ctx is canceled. Scan errors are
// logged and the loop continues; a broken database connection should not
// take the dispatcher down with it.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started",
		"interval", d.interval.String(),
		"batch_size", d.batchSize,
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchDue(ctx); err != nil {
			d.logger.ErrorContext(ctx, "dispatch scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchDue performs one scan: every due job is published to its lane
// and its queue message id recorded. Returns how many jobs were published.
// A publish failure skips that job; it stays due and the next scan retries
// it.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.jobs.DueJobs(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	published := 0
	for _, job := range due {
		lane := LaneForJobType(job.Type)
		messageID, err := d.publisher.Enqueue(ctx, lane, job.ID, "due")
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to publish due job",
				"job_id", job.ID,
				"job_type", string(job.Type),
				"lane", string(lane),
				"error", err,
			)
			continue
		}
		if err := d.jobs.SetQueueMessageID(ctx, job.ID, messageID); err != nil {
			// The message is already out; the consumer will still run the
			// job. Losing the handle only costs a possible duplicate publish
			// on the next scan, which MarkActive deduplicates.
			d.logger.ErrorContext(ctx, "failed to record queue message id",
				"job_id", job.ID,
				"message_id", messageID,
				"error", err,
			)
		}
		published++
	}

	d.logger.InfoContext(ctx, "dispatch scan complete",
		"due", len(due),
		"published", published,
	)
	return published, nil
}
