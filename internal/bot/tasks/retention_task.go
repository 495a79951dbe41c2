package tasks

import (
	"context"
	"fmt"
	"time"
)

// newRetentionTask creates the scheduled task that prunes audit records
// older than the configured maximum age. Retention is the only path
// that deletes audit rows; the capture and read paths never do.
func newRetentionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "retention")

	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-deps.Config.Retention.MaxAge)
		log.InfoContext(ctx, "Starting scheduled retention task...",
			"max_age", deps.Config.Retention.MaxAge, "cutoff", cutoff)
		startTime := time.Now()

		removed, err := deps.Store.PruneBefore(ctx, cutoff)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Retention task failed", "error", err, "duration", duration)
			return fmt.Errorf("retention pruning failed: %w", err)
		}

		log.InfoContext(ctx, "Retention task completed", "rows_removed", removed, "duration", duration)
		return nil
	}
}
