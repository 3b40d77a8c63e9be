package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sweeper/internal/dmimport"
	"sweeper/internal/types"
)

// runDMPurge deletes the direct messages in the user's uploaded export
// file that are older than their DM threshold. The events API only
// reaches 30 days back, so the export is the only route to older history.
// Individual deletion failures are counted as skipped rather than
// aborting; most mean the message is already gone. The staging file is
// removed once the sweep completes.
func (e *Engine) runDMPurge(ctx context.Context, job *types.Job, user *types.User, kind types.DMExportKind) error {
	if user == nil {
		return fmt.Errorf("%w: dm purge job has no user", ErrCancelJob)
	}
	if !user.Settings.DeleteDMs {
		return fmt.Errorf("%w: direct message deletion is disabled", ErrCancelJob)
	}
	if user.DMAccessToken.Unmask() == "" {
		return fmt.Errorf("%w: user has no DM credentials", ErrCancelJob)
	}

	path := filepath.Join(e.cfg.BulkDMDir, fmt.Sprintf("%s-%s.json", kind, user.ID))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.InfoContext(ctx, "dm export file missing, canceling purge",
				"user_id", user.ID,
				"path", path,
			)
			return fmt.Errorf("%w: export file not staged", ErrCancelJob)
		}
		return fmt.Errorf("opening export file: %w", err)
	}
	messages, parseErr := dmimport.Parse(f, kind)
	f.Close()
	if parseErr != nil {
		return fmt.Errorf("%w: %v", ErrCancelJob, parseErr)
	}

	e.logger.InfoContext(ctx, "purging direct messages from export",
		"user_id", user.ID,
		"kind", string(kind),
		"messages", len(messages),
	)

	progress := types.DMPurgeProgress{Status: "deleting"}
	client := e.clients.ForUserDMs(user)

	// The export reaches arbitrarily far back, so the user's threshold
	// applies unclamped here.
	cutoff := e.now().UTC().AddDate(0, 0, -user.Settings.DMDaysThreshold)

	for _, m := range messages {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		err := e.invoker.Do(ctx, "direct_messages/events/destroy", func() error {
			return client.DeleteDM(ctx, m.ID)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			progress.DMsSkipped++
		} else {
			progress.DMsDeleted++
		}
		if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return err
		}
	}

	if err := os.Remove(path); err != nil {
		e.logger.ErrorContext(ctx, "failed to remove export file",
			"path", path,
			"error", err,
		)
	}

	progress.Status = "finished"
	if err := e.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		return err
	}

	msg := fmt.Sprintf(
		"Done! I deleted %d direct messages from your uploaded export (%d could not be deleted). "+
			"You can remove the export from your devices now.",
		progress.DMsDeleted, progress.DMsSkipped,
	)
	return e.enqueueDM(ctx, user.TwitterID, msg)
}
