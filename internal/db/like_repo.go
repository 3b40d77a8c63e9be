package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sweeper/internal/types"
)

// LikeRepository provides data access for the likes table.
type LikeRepository struct {
	db DBTX
}

// NewLikeRepository creates a new LikeRepository backed by the given
// database connection (pool or transaction).
func NewLikeRepository(db DBTX) *LikeRepository {
	return &LikeRepository{db: db}
}

const likeColumns = `l.id, l.user_id, l.twitter_id, l.created_at, l.author_id, l.is_deleted, l.is_flagged`

func scanLike(row pgx.Row) (*types.Like, error) {
	var l types.Like
	err := row.Scan(
		&l.ID,
		&l.UserID,
		&l.TwitterID,
		&l.CreatedAt,
		&l.AuthorID,
		&l.IsDeleted,
		&l.IsFlagged,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Upsert inserts a like, keyed by (user_id, twitter_id). Refreshing an
// existing row is a no-op; likes carry no mutable engagement data.
func (r *LikeRepository) Upsert(ctx context.Context, l *types.Like) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO likes (user_id, twitter_id, created_at, author_id, is_flagged)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, twitter_id) DO NOTHING`,
		l.UserID,
		l.TwitterID,
		l.CreatedAt.UTC(),
		l.AuthorID,
		l.IsFlagged,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert like", err)
	}
	return nil
}

// MarkDeleted sets the tombstone on a like.
func (r *LikeRepository) MarkDeleted(ctx context.Context, likeID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE likes SET is_deleted = TRUE WHERE id = $1`,
		likeID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark like deleted", err)
	}
	return nil
}

// OldLikes returns the user's undeleted likes older than cutoff, oldest
// first.
func (r *LikeRepository) OldLikes(ctx context.Context, userID string, cutoff time.Time) ([]*types.Like, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+likeColumns+`
		 FROM likes l
		 WHERE l.user_id = $1
		   AND l.is_deleted = FALSE
		   AND l.created_at < $2
		 ORDER BY l.created_at ASC`,
		userID, cutoff.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list old likes", err)
	}
	defer rows.Close()

	return collectLikes(rows)
}

// CountFlaggedSince returns how many of the user's likes on flagged
// accounts' content were placed at or after since. Drives the auto-block
// policy threshold.
func (r *LikeRepository) CountFlaggedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM likes
		 WHERE user_id = $1 AND is_flagged = TRUE AND created_at >= $2`,
		userID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count flagged likes", err)
	}
	return n, nil
}

// LastFlaggedLikeAt returns the timestamp of the user's most recent flagged
// like, or nil when none exist. Anchors the unblock eligibility date.
func (r *LikeRepository) LastFlaggedLikeAt(ctx context.Context, userID string) (*time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx,
		`SELECT created_at FROM likes
		 WHERE user_id = $1 AND is_flagged = TRUE
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find last flagged like", err)
	}
	return &ts, nil
}

func collectLikes(rows pgx.Rows) ([]*types.Like, error) {
	var likes []*types.Like
	for rows.Next() {
		l, err := scanLike(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan like row", err)
		}
		likes = append(likes, l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate like rows", err)
	}
	return likes, nil
}
