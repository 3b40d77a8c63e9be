package db

import (
	"context"

	"sweeper/internal/types"
)

// ThreadRepository provides data access for the threads table. A thread is
// keyed by (user_id, conversation_id) where the conversation id is the
// external id of the reconstructed root tweet.
type ThreadRepository struct {
	db DBTX
}

// NewThreadRepository creates a new ThreadRepository backed by the given
// database connection (pool or transaction).
func NewThreadRepository(db DBTX) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// GetOrCreate returns the id of the thread for the given conversation root,
// inserting the row when it does not exist yet. The DO UPDATE no-op on
// conflict makes RETURNING yield the existing id in one round trip.
func (r *ThreadRepository) GetOrCreate(ctx context.Context, userID, conversationID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO threads (user_id, conversation_id, should_exclude)
		 VALUES ($1, $2, FALSE)
		 ON CONFLICT (user_id, conversation_id) DO UPDATE
		   SET conversation_id = EXCLUDED.conversation_id
		 RETURNING id`,
		userID, conversationID,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to get or create thread", err)
	}
	return id, nil
}

// ResetExclusions clears the exclusion flag on every thread the user owns.
// The exclusion set is recomputed wholesale after each fetch.
func (r *ThreadRepository) ResetExclusions(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE threads SET should_exclude = FALSE WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset thread exclusions", err)
	}
	return nil
}

// ExcludeQualifying marks every thread containing at least one live
// original post that meets both engagement thresholds. Returns the number
// of threads excluded.
func (r *ThreadRepository) ExcludeQualifying(ctx context.Context, userID string, retweetThreshold, likeThreshold int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE threads SET should_exclude = TRUE
		 WHERE user_id = $1
		   AND id IN (
		     SELECT DISTINCT t.thread_id FROM tweets t
		     WHERE t.user_id = $1
		       AND t.thread_id IS NOT NULL
		       AND t.is_retweet = FALSE
		       AND t.is_deleted = FALSE
		       AND t.retweet_count >= $2
		       AND t.like_count >= $3
		   )`,
		userID, retweetThreshold, likeThreshold,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to exclude qualifying threads", err)
	}
	return tag.RowsAffected(), nil
}
