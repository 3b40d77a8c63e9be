package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"sweeper/internal/types"
)

// UserRepository provides data access for the users table. Settings are
// stored as a JSONB column owned by the dashboard; the engine reads them
// but never writes them.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.id, u.twitter_id, u.screen_name,
	u.access_token, u.access_token_secret, u.dm_access_token, u.dm_access_token_secret,
	u.since_id, u.paused, u.blocked, u.settings, u.created_at`

// scanUser scans a single user row into a types.User struct. The columns
// must match the order defined in userColumns. Nullable scan targets cover
// columns that may be NULL (since_id, the DM token pair).
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		accessToken   string
		accessSecret  string
		dmToken       *string
		dmSecret      *string
		sinceID       *string
		settingsJSON  []byte
	)
	err := row.Scan(
		&u.ID,
		&u.TwitterID,
		&u.ScreenName,
		&accessToken,
		&accessSecret,
		&dmToken,
		&dmSecret,
		&sinceID,
		&u.Paused,
		&u.Blocked,
		&settingsJSON,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.AccessToken = types.SecretString(accessToken)
	u.AccessTokenSecret = types.SecretString(accessSecret)
	if dmToken != nil {
		u.DMAccessToken = types.SecretString(*dmToken)
	}
	if dmSecret != nil {
		u.DMAccessTokenSecret = types.SecretString(*dmSecret)
	}
	if sinceID != nil {
		u.SinceID = *sinceID
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &u.Settings); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// GetByID retrieves a user by their ID. Returns ErrCodeNotFoundUser if no
// user exists.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	)
	return scanOneUser(row)
}

// GetByTwitterID retrieves a user by their external account id. Used by the
// block workflow to decide whether the target ever signed up.
func (r *UserRepository) GetByTwitterID(ctx context.Context, twitterID string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.twitter_id = $1`,
		twitterID,
	)
	return scanOneUser(row)
}

func scanOneUser(row pgx.Row) (*types.User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// SetPaused updates the paused flag.
func (r *UserRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET paused = $2 WHERE id = $1`,
		id, paused,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update paused flag", err)
	}
	return nil
}

// SetBlocked updates the blocked flag.
func (r *UserRepository) SetBlocked(ctx context.Context, id string, blocked bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET blocked = $2 WHERE id = $1`,
		id, blocked,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update blocked flag", err)
	}
	return nil
}

// UpdateSinceID advances the fetch checkpoint.
func (r *UserRepository) UpdateSinceID(ctx context.Context, id string, sinceID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET since_id = $2 WHERE id = $1`,
		id, sinceID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update since_id", err)
	}
	return nil
}

// ClearSinceID resets the fetch checkpoint so the next fetch walks the full
// history again.
func (r *UserRepository) ClearSinceID(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET since_id = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear since_id", err)
	}
	return nil
}

// DisableDMs clears the DM credential pair and turns the DM deletion
// setting off. Called when the DM app's tokens stop working.
func (r *UserRepository) DisableDMs(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users
		 SET dm_access_token = NULL,
		     dm_access_token_secret = NULL,
		     settings = jsonb_set(settings, '{delete_dms}', 'false')
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to disable DMs", err)
	}
	return nil
}
