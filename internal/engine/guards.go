package engine

import (
	"context"
	"fmt"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// Guards run before a handler touches an account's history. They execute in
// a fixed order: storage connectivity, credential validity, then the
// follows-us requirement. A credential failure pauses the account and
// cancels the job; everything after depends on working tokens.

// guardStorage verifies the database is reachable.
func (e *Engine) guardStorage(ctx context.Context) error {
	if e.ping == nil {
		return nil
	}
	if err := e.ping(ctx); err != nil {
		return fmt.Errorf("storage not ready: %w", err)
	}
	return nil
}

// guardCredentials verifies the user's tokens still work. Revoked tokens
// pause the account and cancel the job; the user has to reauthorize from
// the dashboard before anything else runs for them.
func (e *Engine) guardCredentials(ctx context.Context, user *types.User, client twitter.Client) error {
	err := e.invoker.Do(ctx, "account/verify_credentials", func() error {
		return client.VerifyCredentials(ctx)
	})
	if err == nil {
		return nil
	}
	if twitter.IsAuth(err) {
		e.logger.InfoContext(ctx, "credentials revoked, pausing account",
			"user_id", user.ID,
			"screen_name", user.ScreenName,
		)
		if pauseErr := e.users.SetPaused(ctx, user.ID, true); pauseErr != nil {
			return pauseErr
		}
		return fmt.Errorf("%w: credentials revoked", ErrCancelJob)
	}
	return err
}

// guardFollowsUs makes sure the user follows the service account, which is
// required for notification DMs to be deliverable. The follow itself is
// best-effort: a failure is logged and the job proceeds.
func (e *Engine) guardFollowsUs(ctx context.Context, user *types.User, client twitter.Client) error {
	// The service's own account has nobody to follow.
	if user.ScreenName == e.cfg.SystemScreenName {
		return nil
	}

	var rel *twitter.Relationship
	err := e.invoker.Do(ctx, "friendships/lookup", func() error {
		var lookupErr error
		rel, lookupErr = client.Friendship(ctx, e.cfg.SystemTwitterID)
		return lookupErr
	})
	if err != nil {
		return err
	}
	if rel.Following {
		return nil
	}

	e.logger.InfoContext(ctx, "user does not follow service account, following",
		"user_id", user.ID,
		"screen_name", user.ScreenName,
	)
	if err := client.Follow(ctx, e.cfg.SystemTwitterID); err != nil {
		e.logger.ErrorContext(ctx, "failed to create follow",
			"user_id", user.ID,
			"error", err,
		)
	}
	return nil
}
