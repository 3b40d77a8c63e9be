package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sweeper/internal/types"
)

// TweetRepository provides data access for the tweets table. Rows are
// upserted during fetch, tombstoned during delete, and never physically
// removed.
type TweetRepository struct {
	db DBTX
}

// NewTweetRepository creates a new TweetRepository backed by the given
// database connection (pool or transaction).
func NewTweetRepository(db DBTX) *TweetRepository {
	return &TweetRepository{db: db}
}

const tweetColumns = `t.id, t.user_id, t.twitter_id, t.created_at, t.text,
	t.is_retweet, t.retweet_id, t.is_reply, t.in_reply_to_id,
	t.retweet_count, t.like_count, t.thread_id,
	t.is_deleted, t.exclude_from_delete, t.is_flagged`

func scanTweet(row pgx.Row) (*types.Tweet, error) {
	var t types.Tweet
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TwitterID,
		&t.CreatedAt,
		&t.Text,
		&t.IsRetweet,
		&t.RetweetID,
		&t.IsReply,
		&t.InReplyToID,
		&t.RetweetCount,
		&t.LikeCount,
		&t.ThreadID,
		&t.IsDeleted,
		&t.ExcludeFromDelete,
		&t.IsFlagged,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert inserts a tweet or refreshes its engagement counts. The unique key
// is (user_id, twitter_id); tombstone and manual-exclusion flags are never
// touched by a refresh.
func (r *TweetRepository) Upsert(ctx context.Context, t *types.Tweet) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tweets (user_id, twitter_id, created_at, text,
		     is_retweet, retweet_id, is_reply, in_reply_to_id,
		     retweet_count, like_count, is_flagged)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, twitter_id) DO UPDATE
		   SET retweet_count = EXCLUDED.retweet_count,
		       like_count = EXCLUDED.like_count,
		       text = EXCLUDED.text`,
		t.UserID,
		t.TwitterID,
		t.CreatedAt.UTC(),
		t.Text,
		t.IsRetweet,
		t.RetweetID,
		t.IsReply,
		t.InReplyToID,
		t.RetweetCount,
		t.LikeCount,
		t.IsFlagged,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert tweet", err)
	}
	return nil
}

// GetByTwitterID retrieves one of the user's tweets by its external id.
func (r *TweetRepository) GetByTwitterID(ctx context.Context, userID, twitterID string) (*types.Tweet, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tweetColumns+`
		 FROM tweets t
		 WHERE t.user_id = $1 AND t.twitter_id = $2`,
		userID, twitterID,
	)
	t, err := scanTweet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve tweet", err)
	}
	return t, nil
}

// MaxTwitterID returns the numerically highest external tweet id the user
// has imported, or "" when nothing has been fetched. External ids are
// stored as text but ordered as integers, hence the cast.
func (r *TweetRepository) MaxTwitterID(ctx context.Context, userID string) (string, error) {
	var id *string
	err := r.db.QueryRow(ctx,
		`SELECT t.twitter_id FROM tweets t
		 WHERE t.user_id = $1
		 ORDER BY CAST(t.twitter_id AS bigint) DESC
		 LIMIT 1`,
		userID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to find max tweet id", err)
	}
	if id == nil {
		return "", nil
	}
	return *id, nil
}

// SetThread assigns a tweet to its reconstructed conversation.
func (r *TweetRepository) SetThread(ctx context.Context, tweetID int64, threadID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE tweets SET thread_id = $2 WHERE id = $1`,
		tweetID, threadID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to assign tweet thread", err)
	}
	return nil
}

// MarkDeleted sets the tombstone on a tweet.
func (r *TweetRepository) MarkDeleted(ctx context.Context, tweetID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE tweets SET is_deleted = TRUE WHERE id = $1`,
		tweetID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark tweet deleted", err)
	}
	return nil
}

// OldRetweets returns the user's undeleted retweets older than cutoff,
// oldest first.
func (r *TweetRepository) OldRetweets(ctx context.Context, userID string, cutoff time.Time) ([]*types.Tweet, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tweetColumns+`
		 FROM tweets t
		 WHERE t.user_id = $1
		   AND t.is_retweet = TRUE
		   AND t.is_deleted = FALSE
		   AND t.created_at < $2
		 ORDER BY t.created_at ASC`,
		userID, cutoff.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list old retweets", err)
	}
	defer rows.Close()

	return collectTweets(rows)
}

// candidateFilter is the WHERE fragment shared by the two deletion
// candidate queries. Engagement thresholds arrive as nullable ints: NULL
// disables that comparison. Manual exclusions are honored unless the
// override flag ($5) is set.
const candidateFilter = `
	   AND t.is_deleted = FALSE
	   AND t.is_retweet = FALSE
	   AND t.created_at < $2
	   AND ($3::int IS NULL OR t.retweet_count < $3)
	   AND ($4::int IS NULL OR t.like_count < $4)
	   AND (t.exclude_from_delete = FALSE OR $5)`

// CandidatesInThreads returns deletion candidates that belong to a thread
// not marked for exclusion, oldest first.
func (r *TweetRepository) CandidatesInThreads(ctx context.Context, userID string, cutoff time.Time, retweetThreshold, likeThreshold *int, includeManuallyExcluded bool) ([]*types.Tweet, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tweetColumns+`
		 FROM tweets t
		 JOIN threads th ON th.id = t.thread_id
		 WHERE t.user_id = $1
		   AND th.should_exclude = FALSE`+candidateFilter+`
		 ORDER BY t.created_at ASC`,
		userID, cutoff.UTC(), retweetThreshold, likeThreshold, includeManuallyExcluded,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list thread candidates", err)
	}
	defer rows.Close()

	return collectTweets(rows)
}

// CandidatesWithoutThreads returns deletion candidates with no thread
// assignment, oldest first.
func (r *TweetRepository) CandidatesWithoutThreads(ctx context.Context, userID string, cutoff time.Time, retweetThreshold, likeThreshold *int, includeManuallyExcluded bool) ([]*types.Tweet, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tweetColumns+`
		 FROM tweets t
		 WHERE t.user_id = $1
		   AND t.thread_id IS NULL`+candidateFilter+`
		 ORDER BY t.created_at ASC`,
		userID, cutoff.UTC(), retweetThreshold, likeThreshold, includeManuallyExcluded,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unthreaded candidates", err)
	}
	defer rows.Close()

	return collectTweets(rows)
}

func collectTweets(rows pgx.Rows) ([]*types.Tweet, error) {
	var tweets []*types.Tweet
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tweet row", err)
		}
		tweets = append(tweets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate tweet rows", err)
	}
	return tweets, nil
}
