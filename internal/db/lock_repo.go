package db

import (
	"context"
	"time"

	"sweeper/internal/types"
)

// AccountLockRepository provides distributed per-account locking via the
// account_locks table. At most one worker runs history-mutating work for a
// given account at a time; the lock uses INSERT ... ON CONFLICT DO UPDATE
// so that acquisition is a single atomic statement.
type AccountLockRepository struct {
	db DBTX
}

// NewAccountLockRepository creates a new AccountLockRepository backed by
// the given database connection (pool or transaction).
func NewAccountLockRepository(db DBTX) *AccountLockRepository {
	return &AccountLockRepository{db: db}
}

// Acquire attempts to take the lock for userID. Returns true if acquired,
// false if another worker holds an unexpired lock.
//
// SQL pattern:
//
//	INSERT INTO account_locks (user_id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (user_id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE account_locks.expires_at < $3
//
// If the existing row has expired the UPDATE succeeds and the caller takes
// over the lock. If the row is still active the ON CONFLICT WHERE clause
// prevents the update and zero rows are affected.
func (r *AccountLockRepository) Acquire(ctx context.Context, userID, workerID string, ttl time.Duration) (bool, error) {
	// Compute expires_at as a concrete timestamp rather than using interval
	// arithmetic in SQL. This avoids PostgreSQL interval parsing issues with
	// Go's duration string format (e.g., "15m0s" is not valid PG interval).
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO account_locks (user_id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE account_locks.expires_at < $3`,
		userID, workerID, now, expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire account lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Extend pushes the lock's expiry forward. Long-running jobs call this
// periodically so a slow pagination walk does not lose its lock mid-run.
func (r *AccountLockRepository) Extend(ctx context.Context, userID, workerID string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE account_locks SET expires_at = $3
		 WHERE user_id = $1 AND worker_id = $2`,
		userID, workerID, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to extend account lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if this worker still holds it. Releasing a lock
// taken over by another worker is a no-op.
func (r *AccountLockRepository) Release(ctx context.Context, userID, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM account_locks WHERE user_id = $1 AND worker_id = $2`,
		userID, workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release account lock", err)
	}
	return nil
}
