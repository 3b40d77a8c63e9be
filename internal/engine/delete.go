package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// deleteCycleInterval is how far ahead the next daily delete run is
// scheduled after this one finishes.
const deleteCycleInterval = 24 * time.Hour

// maxDMRetentionDays caps the user's DM age threshold for the API-driven
// sweep. The events listing only covers the most recent 30 days, so a
// longer setting cannot be honored through it.
const maxDMRetentionDays = 29

// nagInterval is the minimum gap between donation reminders.
const nagInterval = 30 * 24 * time.Hour

// tipGraceWindow is how long a paid tip suppresses reminders.
const tipGraceWindow = 365 * 24 * time.Hour

// runDelete executes one daily retention cycle: refresh the imported
// history, delete everything past its threshold, schedule tomorrow's run,
// and handle the post-cycle notification.
func (e *Engine) runDelete(ctx context.Context, job *types.Job, user *types.User) error {
	if user == nil {
		return fmt.Errorf("%w: delete job has no user", ErrCancelJob)
	}
	if user.Paused {
		return fmt.Errorf("%w: account is paused", ErrCancelJob)
	}

	progress, err := types.DecodeDeleteProgress(job.Progress)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	client := e.clients.ForUser(user)

	// Refresh history first so thresholds apply to current engagement
	// counts and newly created threads.
	progress.Status = "fetching"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}
	var fetchProgress types.FetchProgress
	if err := e.fetchHistory(ctx, user, &fetchProgress, func(context.Context) error { return nil }); err != nil {
		return err
	}

	if user.Settings.DeleteTweets {
		if err := e.deleteTweets(ctx, job, user, client, now, &progress); err != nil {
			return err
		}
	}

	if user.Settings.CleanupRetweetsLikes {
		if user.Settings.DeleteOldRetweets {
			if err := e.deleteRetweets(ctx, job, user, client, now, &progress); err != nil {
				return err
			}
		}
		if user.Settings.DeleteOldLikes {
			if err := e.deleteLikes(ctx, job, user, client, now, &progress); err != nil {
				return err
			}
		}
	}

	if user.Settings.DeleteDMs && user.DMAccessToken.Unmask() != "" {
		if err := e.deleteRecentDMs(ctx, job, user, now, &progress); err != nil {
			return err
		}
	}

	progress.Status = "finished"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	// Self-perpetuating daily cycle.
	next := now.Add(deleteCycleInterval)
	err = e.jobs.Create(ctx, &types.Job{
		Type:        types.JobDelete,
		UserID:      &user.ID,
		ScheduledAt: &next,
	})
	if err != nil {
		return err
	}

	return e.sendCycleNotification(ctx, user, progress, now)
}

// deleteTweets removes every original post past its threshold. Progress is
// persisted after each deletion so an interrupted run resumes with accurate
// lifetime counts.
func (e *Engine) deleteTweets(ctx context.Context, job *types.Job, user *types.User, client twitter.Client, now time.Time, progress *types.DeleteProgress) error {
	progress.Status = "deleting_tweets"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	candidates, err := e.selectTweets(ctx, user, now, false)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "deleting expired tweets",
		"user_id", user.ID,
		"candidates", len(candidates),
	)

	for _, t := range candidates {
		err := e.destroyItem(ctx, user.ID, "statuses/destroy", t.TwitterID, func() error {
			return client.DestroyTweet(ctx, t.TwitterID)
		})
		if err != nil {
			return err
		}
		if err := e.tweets.MarkDeleted(ctx, t.ID); err != nil {
			return err
		}
		progress.TweetsDeleted++
		if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return err
		}
	}
	return nil
}

// deleteRetweets removes retweets older than the retweet day threshold.
func (e *Engine) deleteRetweets(ctx context.Context, job *types.Job, user *types.User, client twitter.Client, now time.Time, progress *types.DeleteProgress) error {
	progress.Status = "deleting_retweets"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	cutoff := cutoffFor(now, user.Settings.RetweetDaysThreshold)
	retweets, err := e.tweets.OldRetweets(ctx, user.ID, cutoff)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "deleting old retweets",
		"user_id", user.ID,
		"candidates", len(retweets),
	)

	for _, t := range retweets {
		err := e.destroyItem(ctx, user.ID, "statuses/destroy", t.TwitterID, func() error {
			return client.DestroyTweet(ctx, t.TwitterID)
		})
		if err != nil {
			return err
		}
		if err := e.tweets.MarkDeleted(ctx, t.ID); err != nil {
			return err
		}
		progress.RetweetsDeleted++
		if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return err
		}
	}
	return nil
}

// deleteLikes removes likes older than the like day threshold.
func (e *Engine) deleteLikes(ctx context.Context, job *types.Job, user *types.User, client twitter.Client, now time.Time, progress *types.DeleteProgress) error {
	progress.Status = "deleting_likes"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	cutoff := cutoffFor(now, user.Settings.LikeDaysThreshold)
	likes, err := e.likes.OldLikes(ctx, user.ID, cutoff)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "deleting old likes",
		"user_id", user.ID,
		"candidates", len(likes),
	)

	for _, l := range likes {
		err := e.destroyItem(ctx, user.ID, "favorites/destroy", l.TwitterID, func() error {
			return client.DestroyLike(ctx, l.TwitterID)
		})
		if err != nil {
			return err
		}
		if err := e.likes.MarkDeleted(ctx, l.ID); err != nil {
			return err
		}
		progress.LikesDeleted++
		if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return err
		}
	}
	return nil
}

// deleteRecentDMs sweeps the API-visible direct messages older than the
// user's DM threshold, capped at what the events listing can reach.
// Revoked DM credentials disable the feature for the user instead of
// failing the cycle.
func (e *Engine) deleteRecentDMs(ctx context.Context, job *types.Job, user *types.User, now time.Time, progress *types.DeleteProgress) error {
	progress.Status = "deleting_dms"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	days := user.Settings.DMDaysThreshold
	if days > maxDMRetentionDays {
		days = maxDMRetentionDays
	}
	dmClient := e.clients.ForUserDMs(user)
	cutoff := now.AddDate(0, 0, -days)

	// Collect first, delete after: removing events mid-walk invalidates the
	// listing cursor.
	var events []twitter.DMEvent
	cursor := ""
	for {
		var page []twitter.DMEvent
		err := e.invoker.Do(ctx, "direct_messages/events/list", func() error {
			var pageErr error
			page, cursor, pageErr = dmClient.DMEvents(ctx, cursor)
			return pageErr
		})
		if err != nil {
			if twitter.IsAuth(err) {
				e.logger.InfoContext(ctx, "DM credentials revoked, disabling DM deletion",
					"user_id", user.ID,
				)
				return e.users.DisableDMs(ctx, user.ID)
			}
			return err
		}
		events = append(events, page...)
		if cursor == "" || len(page) == 0 {
			break
		}
	}

	for _, ev := range events {
		if !ev.CreatedAt.Before(cutoff) {
			continue
		}
		err := e.destroyItem(ctx, user.ID, "direct_messages/events/destroy", ev.ID, func() error {
			return dmClient.DeleteDM(ctx, ev.ID)
		})
		if err != nil {
			return err
		}
		progress.DMsDeleted++
		if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return err
		}
	}
	return nil
}

// sendCycleNotification congratulates first-time users and otherwise sends
// a periodic donation reminder with lifetime totals. Paying supporters are
// left alone.
func (e *Engine) sendCycleNotification(ctx context.Context, user *types.User, progress types.DeleteProgress, now time.Time) error {
	finished, err := e.jobs.CountFinishedDeleteJobs(ctx, user.ID)
	if err != nil {
		return err
	}

	if finished == 0 {
		congrats := fmt.Sprintf(
			"Congratulations @%s, your first automatic delete cycle just finished: "+
				"%d tweets, %d retweets, and %d likes are gone. From now on this happens every day.",
			user.ScreenName, progress.TweetsDeleted, progress.RetweetsDeleted, progress.LikesDeleted,
		)
		if err := e.enqueueDM(ctx, user.TwitterID, congrats); err != nil {
			return err
		}
		donate := fmt.Sprintf(
			"This service is free, but running it is not. If it is useful to you, "+
				"you can chip in at %s/tip.",
			e.cfg.DashboardURL,
		)
		if err := e.enqueueDM(ctx, user.TwitterID, donate); err != nil {
			return err
		}
		return e.billing.CreateNag(ctx, user.ID, now)
	}

	lastNag, err := e.billing.LastNagAt(ctx, user.ID)
	if err != nil {
		return err
	}
	if lastNag != nil && now.Sub(*lastNag) <= nagInterval {
		return nil
	}

	paid, err := e.billing.HasPaidTipSince(ctx, user.ID, now.Add(-tipGraceWindow))
	if err != nil {
		return err
	}
	if paid {
		return nil
	}

	totals, err := e.lifetimeTotals(ctx, user.ID, progress)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf(
		"So far I have deleted %d tweets, %d retweets, %d likes, and %d direct messages for you. "+
			"If that is worth something, you can support the service at %s/tip.",
		totals.TweetsDeleted, totals.RetweetsDeleted, totals.LikesDeleted, totals.DMsDeleted,
		e.cfg.DashboardURL,
	)
	if err := e.enqueueDM(ctx, user.TwitterID, msg); err != nil {
		return err
	}
	return e.billing.CreateNag(ctx, user.ID, now)
}

// lifetimeTotals sums the progress snapshots of every finished delete job
// plus the current cycle's counts.
func (e *Engine) lifetimeTotals(ctx context.Context, userID string, current types.DeleteProgress) (types.DeleteProgress, error) {
	jobs, err := e.jobs.FinishedDeleteJobs(ctx, userID)
	if err != nil {
		return types.DeleteProgress{}, err
	}
	totals := current
	for _, j := range jobs {
		p, err := types.DecodeDeleteProgress(j.Progress)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping unreadable progress snapshot",
				"job_id", j.ID,
				"error", err,
			)
			continue
		}
		totals.Add(p)
	}
	return totals, nil
}

// destroyItem runs one destroy call in best-effort mode. A gone-upstream
// response counts as success, any other failure is logged and skipped so
// the sweep keeps going; the tombstone converges the local state either
// way. Context cancellation and revoked credentials still abort, nothing
// later in the sweep can succeed after those.
func (e *Engine) destroyItem(ctx context.Context, userID, endpoint, itemID string, call func() error) error {
	err := e.invoker.Do(ctx, endpoint, call)
	if err == nil || isGoneUpstream(err) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if twitter.IsAuth(err) {
		return err
	}
	e.logger.WarnContext(ctx, "item deletion failed, skipping",
		"user_id", userID,
		"endpoint", endpoint,
		"item_id", itemID,
		"error", err,
	)
	return nil
}

// isGoneUpstream reports whether a deletion failed because the item no
// longer exists upstream. The tombstone is still recorded; the goal state
// is reached either way.
func isGoneUpstream(err error) bool {
	var se *twitter.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusForbidden
	}
	return false
}
