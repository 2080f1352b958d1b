// Package progress translates per-stage callbacks into monotone global
// percentages persisted on the job record.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/store"
)

// cancelCacheTTL bounds how often Cancelled consults the store.
const cancelCacheTTL = 2 * time.Second

// Store is the record-store surface the reporter needs.
type Store interface {
	UpdateJob(ctx context.Context, id string, patch store.Patch) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

// Reporter is bound to a single in-flight job. Each stage gets a global
// percentage band; stage-local (done, total) callbacks are rebased onto
// the band so progress never dips when the next stage restarts its count.
// Store write failures are logged, not propagated: progress persistence
// is observability, not correctness.
type Reporter struct {
	jobID string
	store Store
	clock clock.Clock

	mu        sync.Mutex
	bandStart int
	bandEnd   int
	lastPct   int
	lastMsg   string

	lastCancelCheck time.Time
	cancelled       bool
}

// NewReporter creates a reporter for one job.
func NewReporter(jobID string, st Store, clk clock.Clock) *Reporter {
	return &Reporter{jobID: jobID, store: st, clock: clk}
}

// SetStep records which stage is running and its band, and forces a
// persist at the band start.
func (r *Reporter) SetStep(ctx context.Context, step models.Step, bandStart, bandEnd int, message string) {
	r.mu.Lock()
	r.bandStart = bandStart
	r.bandEnd = bandEnd
	pct := r.clampLocked(bandStart)
	msg := models.TruncateProgressMessage(message)
	r.mu.Unlock()

	r.persist(ctx, pct, msg, store.Patch{
		"current_step":     step,
		"progress":         pct,
		"progress_message": msg,
	})
}

// Report rebases a stage-local (done, total) callback onto the band and
// persists it unless elided. Small deltas (≤1 point) with an unchanged
// message are skipped except at the band edges, to cap write traffic.
func (r *Reporter) Report(ctx context.Context, done, total int, message string) {
	r.mu.Lock()
	pct := r.clampLocked(r.translateLocked(done, total))
	msg := models.TruncateProgressMessage(message)
	atBoundary := pct == r.bandStart || pct == r.bandEnd
	if pct-r.lastPct <= 1 && msg == r.lastMsg && !atBoundary {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.persist(ctx, pct, msg, store.Patch{
		"progress":         pct,
		"progress_message": msg,
	})
}

// Finalise forces a persist at the given percentage, typically the band end.
func (r *Reporter) Finalise(ctx context.Context, pct int, message string) {
	r.mu.Lock()
	pct = r.clampLocked(pct)
	msg := models.TruncateProgressMessage(message)
	r.mu.Unlock()

	r.persist(ctx, pct, msg, store.Patch{
		"progress":         pct,
		"progress_message": msg,
	})
}

// Progress returns the last persisted percentage.
func (r *Reporter) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPct
}

// Cancelled reports whether the job's store status has moved to cancelled.
// The store read is cached for up to 2 s; once cancellation is observed it
// sticks.
func (r *Reporter) Cancelled(ctx context.Context) bool {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return true
	}
	if !r.lastCancelCheck.IsZero() && r.clock.Since(r.lastCancelCheck) < cancelCacheTTL {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	job, err := r.store.GetJob(ctx, r.jobID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCancelCheck = r.clock.Now()
	if err != nil {
		// Missing record means the job was deleted out from under us;
		// treat it like cancellation so the pipeline stops.
		if errors.Is(err, store.ErrNotFound) {
			r.cancelled = true
			return true
		}
		slog.Warn("Cancellation check failed", "job_id", r.jobID, "error", err)
		return false
	}
	if job.Status == models.StatusCancelled {
		r.cancelled = true
	}
	return r.cancelled
}

// translateLocked maps (done, total) onto the current band.
func (r *Reporter) translateLocked(done, total int) int {
	if total <= 0 {
		return r.bandStart
	}
	if done > total {
		done = total
	}
	if done < 0 {
		done = 0
	}
	span := r.bandEnd - r.bandStart
	return r.bandStart + done*span/total
}

// clampLocked bounds pct to the band and enforces monotonicity.
func (r *Reporter) clampLocked(pct int) int {
	if pct < r.bandStart {
		pct = r.bandStart
	}
	if pct > r.bandEnd {
		pct = r.bandEnd
	}
	if pct < r.lastPct {
		pct = r.lastPct
	}
	return pct
}

func (r *Reporter) persist(ctx context.Context, pct int, msg string, patch store.Patch) {
	if _, err := r.store.UpdateJob(ctx, r.jobID, patch); err != nil {
		slog.Warn("Progress update failed", "job_id", r.jobID, "progress", pct, "error", err)
		return
	}
	r.mu.Lock()
	if pct > r.lastPct {
		r.lastPct = pct
	}
	r.lastMsg = msg
	r.mu.Unlock()
}
