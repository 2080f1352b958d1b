// Package cleanup provides the expiry reaper: a background loop that
// deletes job records whose expiry instant has passed, together with
// their on-disk artifacts.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
)

// Store is the record-store surface the reaper needs.
type Store interface {
	ListExpired(ctx context.Context, now time.Time) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// Service runs the periodic reap. Deletion is best-effort and not
// transactional: a failed half (record or files) is logged and retried on
// the next tick. Safe to run on every worker replica — passes are
// idempotent.
type Service struct {
	store    Store
	cfg      *config.RetentionConfig
	dataRoot string
	clock    clock.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the expiry reaper.
func NewService(st Store, cfg *config.RetentionConfig, dataRoot string, clk clock.Clock) *Service {
	return &Service{store: st, cfg: cfg, dataRoot: dataRoot, clock: clk}
}

// Start launches the background reap loop. The first pass runs
// immediately, then every ReapInterval.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Expiry reaper started", "interval", s.cfg.ReapInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Expiry reaper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.ReapOnce(ctx)

	ticker := s.clock.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapOnce(ctx)
		}
	}
}

// ReapOnce performs one pass: list expired records, remove each one's
// artifact directory, then delete the record. Exported for tests and for
// operational triggering.
func (s *Service) ReapOnce(ctx context.Context) {
	now := s.clock.Now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		slog.Error("Expiry scan failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	reaped := 0
	for _, job := range expired {
		jobDir := filepath.Join(s.dataRoot, "jobs", job.ID)
		if err := os.RemoveAll(jobDir); err != nil {
			// Best-effort: record deletion below still proceeds.
			slog.Warn("Failed to remove expired job artifacts", "job_id", job.ID, "dir", jobDir, "error", err)
		}
		if err := s.store.DeleteJob(ctx, job.ID); err != nil {
			slog.Warn("Failed to delete expired job record", "job_id", job.ID, "error", err)
			continue
		}
		reaped++
	}

	slog.Info("Expired jobs reaped", "count", reaped, "candidates", len(expired))
}
