package engine

import (
	"context"
	"time"

	"sweeper/internal/types"
)

// maxDayThreshold caps user-supplied day thresholds so cutoff arithmetic
// cannot wrap past representable time.
const maxDayThreshold = 99999

// clampDays bounds a day threshold to [0, maxDayThreshold].
func clampDays(days int) int {
	if days < 0 {
		return 0
	}
	if days > maxDayThreshold {
		return maxDayThreshold
	}
	return days
}

// cutoffFor returns now minus the clamped day threshold, floored at the
// Unix epoch. Everything strictly older than the cutoff is eligible.
func cutoffFor(now time.Time, days int) time.Time {
	cutoff := now.UTC().AddDate(0, 0, -clampDays(days))
	floor := time.Unix(0, 0).UTC()
	if cutoff.Before(floor) {
		return floor
	}
	return cutoff
}

// selectTweets returns the user's deletion candidates, oldest first. Two
// queries cover the candidate space: tweets in threads not marked for
// exclusion, and tweets with no thread at all. Engagement thresholds only
// apply when the corresponding toggle is on; a disabled toggle becomes a
// NULL comparison that matches everything.
func (e *Engine) selectTweets(ctx context.Context, user *types.User, now time.Time, includeManuallyExcluded bool) ([]*types.Tweet, error) {
	cutoff := cutoffFor(now, user.Settings.TweetDaysThreshold)

	var retweetThreshold, likeThreshold *int
	if user.Settings.EnableRetweetThreshold {
		v := user.Settings.RetweetThreshold
		retweetThreshold = &v
	}
	if user.Settings.EnableLikeThreshold {
		v := user.Settings.LikeThreshold
		likeThreshold = &v
	}

	threaded, err := e.tweets.CandidatesInThreads(ctx, user.ID, cutoff, retweetThreshold, likeThreshold, includeManuallyExcluded)
	if err != nil {
		return nil, err
	}
	unthreaded, err := e.tweets.CandidatesWithoutThreads(ctx, user.ID, cutoff, retweetThreshold, likeThreshold, includeManuallyExcluded)
	if err != nil {
		return nil, err
	}

	return mergeByCreatedAt(threaded, unthreaded), nil
}

// mergeByCreatedAt merges two slices already sorted ascending by CreatedAt.
func mergeByCreatedAt(a, b []*types.Tweet) []*types.Tweet {
	merged := make([]*types.Tweet, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].CreatedAt.Before(b[j].CreatedAt) || a[i].CreatedAt.Equal(b[j].CreatedAt) {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}
