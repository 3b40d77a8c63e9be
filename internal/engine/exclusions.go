package engine

import (
	"context"

	"sweeper/internal/types"
)

// recomputeThreadExclusions rebuilds the protected-thread set from scratch:
// every exclusion is cleared, then threads containing at least one live
// original post meeting both engagement thresholds are re-marked. The
// wholesale rebuild means a post whose engagement dropped back below the
// thresholds stops protecting its thread.
func (e *Engine) recomputeThreadExclusions(ctx context.Context, user *types.User) error {
	if err := e.threads.ResetExclusions(ctx, user.ID); err != nil {
		return err
	}
	if !user.Settings.ProtectThreads {
		return nil
	}

	excluded, err := e.threads.ExcludeQualifying(ctx, user.ID,
		user.Settings.RetweetThreshold, user.Settings.LikeThreshold)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "recomputed thread exclusions",
		"user_id", user.ID,
		"excluded", excluded,
	)
	return nil
}
