package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/store"
)

// RecoverStuckJobs transitions records stuck in processing — in-flight
// work from a previous crash of any worker — to failed. Called once at
// startup, before the pool begins claiming. The pipeline is not re-run
// for these jobs; the submitter may resubmit.
//
// A record that cannot be transitioned (store error) is logged and left
// alone; the next startup retries it.
func RecoverStuckJobs(ctx context.Context, st Store, clk clock.Clock) (int, error) {
	stuck, err := st.ListByStatus(ctx, models.StatusProcessing, 200)
	if err != nil {
		return 0, fmt.Errorf("list stuck jobs: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	slog.Warn("Found jobs stuck in processing from a previous run", "count", len(stuck))

	recovered := 0
	now := store.FormatTime(clk.Now())
	for _, job := range stuck {
		reason := fmt.Sprintf("recovered at worker startup: job was in processing (worker %s) when the previous run stopped", job.WorkerID)
		_, err := st.UpdateJob(ctx, job.ID, store.Patch{
			"status":        models.StatusFailed,
			"error_message": models.TruncateError(reason),
			"completed_at":  now,
		})
		if err != nil {
			slog.Error("Failed to recover stuck job", "job_id", job.ID, "error", err)
			continue
		}
		slog.Info("Stuck job recovered", "job_id", job.ID, "previous_worker", job.WorkerID)
		recovered++
	}
	return recovered, nil
}
