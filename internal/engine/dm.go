package engine

import (
	"context"
	"fmt"
	"time"

	"sweeper/internal/types"
)

// dmSendPause is the unconditional pause after every DM send. The DM
// endpoints have a much tighter budget than the rest of the API, so the
// worker self-throttles to one message per minute per lane.
const dmSendPause = 60 * time.Second

// runDM sends one notification message from the service account. A send
// failure cancels the job: notification DMs are best-effort and a target
// who unfollowed or blocked the service account will never become
// deliverable by retrying.
func (e *Engine) runDM(ctx context.Context, job *types.Job) error {
	var payload types.DMJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("%w: unreadable dm payload: %v", ErrCancelJob, err)
	}
	if payload.DestTwitterID == "" || payload.Message == "" {
		return fmt.Errorf("%w: dm payload missing destination or message", ErrCancelJob)
	}

	client := e.clients.SystemDM()
	err := e.invoker.Do(ctx, "direct_messages/events/new", func() error {
		return client.SendDM(ctx, payload.DestTwitterID, payload.Message)
	})
	if err != nil {
		e.logger.InfoContext(ctx, "dm send failed, canceling",
			"job_id", job.ID,
			"dest_twitter_id", payload.DestTwitterID,
			"error", err,
		)
		return fmt.Errorf("%w: dm send failed: %v", ErrCancelJob, err)
	}

	e.logger.InfoContext(ctx, "dm sent",
		"job_id", job.ID,
		"dest_twitter_id", payload.DestTwitterID,
	)
	return e.sleep(ctx, dmSendPause)
}
