package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sweeper/internal/types"
)

// blockedAccountSuspension is how long a blocked subscriber stays blocked,
// measured from their most recent flagged like.
const blockedAccountSuspension = 180 * 24 * time.Hour

// blockDMPause is the pause after notifying a subscriber they are being
// blocked, giving the DM time to land before the block severs the channel.
const blockDMPause = 65 * time.Second

// runBlock blocks the target account from the service account. When the
// target is a subscriber, their account is paused and marked blocked, they
// are told why, and an unblock job is scheduled for when the suspension
// lapses.
func (e *Engine) runBlock(ctx context.Context, job *types.Job) error {
	var payload types.BlockJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("%w: unreadable block payload: %v", ErrCancelJob, err)
	}
	if payload.TwitterID == "" {
		return fmt.Errorf("%w: block payload missing twitter id", ErrCancelJob)
	}

	if payload.UserID != nil {
		if err := e.suspendSubscriber(ctx, *payload.UserID); err != nil {
			return err
		}
	}

	system := e.clients.System()
	err := e.invoker.Do(ctx, "blocks/create", func() error {
		return system.Block(ctx, payload.TwitterID)
	})
	if err != nil {
		// The block itself is best-effort; the durable state changes above
		// already happened.
		e.logger.ErrorContext(ctx, "block call failed",
			"twitter_id", payload.TwitterID,
			"error", err,
		)
	} else {
		e.logger.InfoContext(ctx, "account blocked",
			"twitter_id", payload.TwitterID,
			"twitter_username", payload.TwitterUsername,
		)
	}
	return nil
}

// suspendSubscriber pauses and marks a subscriber blocked, notifies them,
// and schedules the unblock for when the suspension lapses.
func (e *Engine) suspendSubscriber(ctx context.Context, userID string) error {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			return nil
		}
		return err
	}
	if user.Blocked {
		return nil
	}

	if err := e.users.SetPaused(ctx, user.ID, true); err != nil {
		return err
	}
	if err := e.users.SetBlocked(ctx, user.ID, true); err != nil {
		return err
	}

	unblockAt := e.now().Add(blockedAccountSuspension)
	if last, err := e.likes.LastFlaggedLikeAt(ctx, user.ID); err != nil {
		return err
	} else if last != nil {
		unblockAt = last.Add(blockedAccountSuspension)
	}

	msg := fmt.Sprintf(
		"Hi @%s. Because of your recent likes, your account has been suspended from this "+
			"service and will be blocked. The suspension lifts on %s.",
		user.ScreenName, unblockAt.UTC().Format("January 2, 2006"),
	)
	dmClient := e.clients.SystemDM()
	if err := e.invoker.Do(ctx, "direct_messages/events/new", func() error {
		return dmClient.SendDM(ctx, user.TwitterID, msg)
	}); err != nil {
		e.logger.ErrorContext(ctx, "failed to notify suspended subscriber",
			"user_id", user.ID,
			"error", err,
		)
	}
	if err := e.sleep(ctx, blockDMPause); err != nil {
		return err
	}

	payload, err := types.EncodePayload(types.BlockJobPayload{
		UserID:          &user.ID,
		TwitterUsername: user.ScreenName,
		TwitterID:       user.TwitterID,
	})
	if err != nil {
		return err
	}
	return e.jobs.Create(ctx, &types.Job{
		Type:        types.JobUnblock,
		UserID:      &user.ID,
		Payload:     payload,
		ScheduledAt: &unblockAt,
	})
}

// runUnblock lifts the block on the target account. A subscriber stays
// paused after the block clears; resuming is their decision.
func (e *Engine) runUnblock(ctx context.Context, job *types.Job) error {
	var payload types.BlockJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return fmt.Errorf("%w: unreadable unblock payload: %v", ErrCancelJob, err)
	}
	if payload.TwitterID == "" {
		return fmt.Errorf("%w: unblock payload missing twitter id", ErrCancelJob)
	}

	system := e.clients.System()
	err := e.invoker.Do(ctx, "blocks/destroy", func() error {
		return system.Unblock(ctx, payload.TwitterID)
	})
	if err != nil {
		return err
	}

	if payload.UserID != nil {
		user, err := e.users.GetByID(ctx, *payload.UserID)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
				return nil
			}
			return err
		}
		if user.Blocked {
			if err := e.users.SetBlocked(ctx, user.ID, false); err != nil {
				return err
			}
		}
	}

	e.logger.InfoContext(ctx, "account unblocked",
		"twitter_id", payload.TwitterID,
	)
	return nil
}

// UnblockEligible reports whether a blocked subscriber may be unblocked
// ahead of schedule. An account whose flagged-like count inside the policy
// window still exceeds the limit stays blocked.
func (e *Engine) UnblockEligible(ctx context.Context, userID string) (bool, error) {
	since := e.now().Add(-flaggedLikeWindow)
	n, err := e.likes.CountFlaggedSince(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return n <= flaggedLikeLimit, nil
}
