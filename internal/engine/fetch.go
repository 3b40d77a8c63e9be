package engine

import (
	"context"
	"fmt"
	"time"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// flaggedLikeWindow is how far back the auto-block policy looks for likes
// on flagged accounts' content.
const flaggedLikeWindow = 180 * 24 * time.Hour

// flaggedLikeLimit is the number of flagged likes inside the window above
// which the account is blocked. Strictly more than this many triggers the
// block.
const flaggedLikeLimit = 4

// runFetch imports the user's history: tweets since the last checkpoint,
// likes, reconstructed threads, and the recomputed thread exclusion set.
// A standalone fetch ends by notifying a still-paused user that their
// settings await review, unless the flagged-like policy trips first.
func (e *Engine) runFetch(ctx context.Context, job *types.Job, user *types.User) error {
	if user == nil {
		return fmt.Errorf("%w: fetch job has no user", ErrCancelJob)
	}

	progress := types.FetchProgress{Status: "fetching"}
	persist := func(ctx context.Context) error {
		return e.jobs.UpdateProgress(ctx, job.ID, progress)
	}
	if err := e.fetchHistory(ctx, user, &progress, persist); err != nil {
		return err
	}

	blocked, err := e.applyFlaggedLikePolicy(ctx, user)
	if err != nil {
		return err
	}

	progress.Status = "fetched"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	// A blocked account gets no onboarding nudge.
	if blocked {
		return nil
	}

	if user.Paused {
		msg := fmt.Sprintf(
			"Hi @%s! Your history has been imported, but your account is still paused. "+
				"Review your settings at %s and unpause to start automatically deleting your old posts.",
			user.ScreenName, e.cfg.DashboardURL,
		)
		if err := e.enqueueDM(ctx, user.TwitterID, msg); err != nil {
			return err
		}
	}
	return nil
}

// fetchHistory is the shared import pass used by both fetch and delete
// jobs. It walks the timeline and favorites listings from the user's
// checkpoint forward, upserts everything, and advances the checkpoint.
// persist is called after each imported page so the owning job can record
// progress its own way.
func (e *Engine) fetchHistory(ctx context.Context, user *types.User, progress *types.FetchProgress, persist func(ctx context.Context) error) error {
	client := e.clients.ForUser(user)

	flaggedSet, err := e.flagged.IDSet(ctx)
	if err != nil {
		return err
	}

	sinceID := user.SinceID
	if sinceID == "" {
		sinceID, err = e.tweets.MaxTwitterID(ctx, user.ID)
		if err != nil {
			return err
		}
	}

	resolver := NewResolver(func(ctx context.Context, id string) (*twitter.Tweet, error) {
		var t *twitter.Tweet
		err := e.invoker.Do(ctx, "statuses/show", func() error {
			var getErr error
			t, getErr = client.GetTweet(ctx, id)
			return getErr
		})
		return t, err
	})

	e.logger.InfoContext(ctx, "importing timeline",
		"user_id", user.ID,
		"since_id", sinceID,
	)

	cursor := ""
	for {
		var page []twitter.Tweet
		err := e.invoker.Do(ctx, "statuses/user_timeline", func() error {
			var pageErr error
			page, cursor, pageErr = client.UserTimeline(ctx, user.TwitterID, sinceID, cursor)
			return pageErr
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if err := e.importTweet(ctx, user, resolver, &page[i]); err != nil {
				return err
			}
		}
		progress.TweetsFetched += len(page)
		if err := persist(ctx); err != nil {
			return err
		}

		if cursor == "" {
			break
		}
	}

	e.logger.InfoContext(ctx, "importing likes",
		"user_id", user.ID,
		"since_id", sinceID,
	)

	cursor = ""
	for {
		var page []twitter.Tweet
		err := e.invoker.Do(ctx, "favorites/list", func() error {
			var pageErr error
			page, cursor, pageErr = client.Favorites(ctx, user.TwitterID, sinceID, cursor)
			return pageErr
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			t := &page[i]
			_, isFlagged := flaggedSet[t.AuthorID]
			like := &types.Like{
				UserID:    user.ID,
				TwitterID: t.ID,
				CreatedAt: t.CreatedAt,
				AuthorID:  t.AuthorID,
				IsFlagged: isFlagged,
			}
			if err := e.likes.Upsert(ctx, like); err != nil {
				return err
			}
		}
		progress.LikesFetched += len(page)
		if err := persist(ctx); err != nil {
			return err
		}

		if cursor == "" {
			break
		}
	}

	if err := e.recomputeThreadExclusions(ctx, user); err != nil {
		return err
	}

	maxID, err := e.tweets.MaxTwitterID(ctx, user.ID)
	if err != nil {
		return err
	}
	if maxID != "" && maxID != user.SinceID {
		if err := e.users.UpdateSinceID(ctx, user.ID, maxID); err != nil {
			return err
		}
		user.SinceID = maxID
	}

	e.logger.InfoContext(ctx, "import complete",
		"user_id", user.ID,
		"tweets_fetched", progress.TweetsFetched,
		"likes_fetched", progress.LikesFetched,
	)
	return nil
}

// importTweet upserts one timeline status and assigns it to the thread of
// its reconstructed conversation. A non-reply is its own conversation
// root, so every imported status lands in a thread; that is what lets a
// popular root protect its replies and vice versa.
func (e *Engine) importTweet(ctx context.Context, user *types.User, resolver *Resolver, t *twitter.Tweet) error {
	row := &types.Tweet{
		UserID:       user.ID,
		TwitterID:    t.ID,
		CreatedAt:    t.CreatedAt,
		Text:         t.Text,
		IsRetweet:    t.IsRetweet(),
		RetweetID:    t.RetweetedID,
		IsReply:      t.IsReply(),
		InReplyToID:  t.InReplyToID,
		RetweetCount: t.RetweetCount,
		LikeCount:    t.LikeCount,
	}
	if err := e.tweets.Upsert(ctx, row); err != nil {
		return err
	}

	resolver.Seed(t.ID, t.InReplyToID)
	root, err := resolver.Root(ctx, t.ID)
	if err != nil {
		return err
	}
	threadID, err := e.threads.GetOrCreate(ctx, user.ID, root)
	if err != nil {
		return err
	}
	stored, err := e.tweets.GetByTwitterID(ctx, user.ID, t.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("tweet %s vanished after upsert", t.ID)
	}
	return e.tweets.SetThread(ctx, stored.ID, threadID)
}

// applyFlaggedLikePolicy blocks accounts that recently liked too much
// flagged content. Returns true when a block job was enqueued.
func (e *Engine) applyFlaggedLikePolicy(ctx context.Context, user *types.User) (bool, error) {
	since := e.now().Add(-flaggedLikeWindow)
	n, err := e.likes.CountFlaggedSince(ctx, user.ID, since)
	if err != nil {
		return false, err
	}
	if n <= flaggedLikeLimit {
		return false, nil
	}

	e.logger.InfoContext(ctx, "flagged-like policy tripped, enqueueing block",
		"user_id", user.ID,
		"flagged_likes", n,
	)

	payload, err := types.EncodePayload(types.BlockJobPayload{
		UserID:          &user.ID,
		TwitterUsername: user.ScreenName,
		TwitterID:       user.TwitterID,
	})
	if err != nil {
		return false, err
	}
	return true, e.jobs.Create(ctx, &types.Job{
		Type:    types.JobBlock,
		Payload: payload,
	})
}

// enqueueDM creates a dm job carrying one notification message.
func (e *Engine) enqueueDM(ctx context.Context, destTwitterID, message string) error {
	payload, err := types.EncodePayload(types.DMJobPayload{
		DestTwitterID: destTwitterID,
		Message:       message,
	})
	if err != nil {
		return err
	}
	return e.jobs.Create(ctx, &types.Job{
		Type:    types.JobDM,
		Payload: payload,
	})
}
