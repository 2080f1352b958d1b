package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/pipeline"
	"github.com/blogcast/blogcast/pkg/progress"
	"github.com/blogcast/blogcast/pkg/store"
)

// Pool is the per-process worker: a single scheduling loop that claims
// pending jobs up to the concurrency cap and spawns one processing
// goroutine per claimed job.
type Pool struct {
	workerID string
	store    Store
	cfg      *config.QueueConfig
	runner   PipelineRunner
	clock    clock.Clock

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	jobWG    sync.WaitGroup

	// Job cancel registry: job id → cancel function. Lets the cancel
	// endpoint kill a locally running pipeline immediately instead of
	// waiting for the next store poll.
	mu            sync.RWMutex
	activeJobs    map[string]context.CancelFunc
	started       bool
	jobsProcessed int
}

// NewPool creates a worker pool. workerID identifies this process in
// claim read-back verification across replicas.
func NewPool(workerID string, st Store, cfg *config.QueueConfig, runner PipelineRunner, clk clock.Clock) *Pool {
	return &Pool{
		workerID:   workerID,
		store:      st,
		cfg:        cfg,
		runner:     runner,
		clock:      clk,
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start launches the polling loop. Safe to call once; subsequent calls
// are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "worker_id", p.workerID)
		return
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("Starting worker pool",
		"worker_id", p.workerID,
		"max_concurrent_jobs", p.cfg.MaxConcurrentJobs,
		"poll_interval", p.cfg.PollInterval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop signals the loop to exit and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	active := p.activeJobIDs()
	if len(active) > 0 {
		slog.Info("Waiting for in-flight jobs to complete", "count", len(active), "job_ids", active)
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.jobWG.Wait()
	slog.Info("Worker pool stopped")
}

// CancelJob fires the in-process cancel function for a job, if this
// process owns it. Returns false when the job runs elsewhere (or not at
// all); the worker owning it observes the store status within its next
// cancellation poll.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// InFlight returns the number of locally running pipelines.
func (p *Pool) InFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.activeJobs)
}

// Health returns the pool's health snapshot. Store reachability is probed
// with a queue-depth count.
func (p *Pool) Health(ctx context.Context) *PoolHealth {
	queueDepth, err := p.store.CountByStatus(ctx, models.StatusPending)
	var storeErr string
	if err != nil {
		storeErr = fmt.Sprintf("queue depth query failed: %v", err)
		slog.Error("Failed to query queue depth for health check", "worker_id", p.workerID, "error", err)
	}

	p.mu.RLock()
	inFlight := len(p.activeJobs)
	processed := p.jobsProcessed
	p.mu.RUnlock()

	return &PoolHealth{
		IsHealthy:      err == nil && inFlight <= p.cfg.MaxConcurrentJobs,
		StoreReachable: err == nil,
		StoreError:     storeErr,
		WorkerID:       p.workerID,
		InFlight:       inFlight,
		MaxConcurrent:  p.cfg.MaxConcurrentJobs,
		QueueDepth:     queueDepth,
		JobsProcessed:  processed,
	}
}

// run is the scheduling loop: sleep, check capacity, claim, dispatch.
func (p *Pool) run(ctx context.Context) {
	log := slog.With("worker_id", p.workerID)
	log.Info("Worker loop started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Worker loop shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker loop shutting down")
			return
		case <-time.After(p.cfg.PollInterval):
			if err := p.pollOnce(ctx); err != nil {
				log.Error("Poll failed", "error", err)
			}
		}
	}
}

// pollOnce claims up to (max_concurrent - in_flight) pending jobs, oldest
// first, and spawns a processing task for each successful claim.
func (p *Pool) pollOnce(ctx context.Context) error {
	capacity := p.cfg.MaxConcurrentJobs - p.InFlight()
	if capacity <= 0 {
		return nil
	}

	jobs, err := p.store.ListByStatus(ctx, models.StatusPending, capacity)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}

	for _, job := range jobs {
		claimed, err := p.claim(ctx, job)
		if err != nil {
			slog.Error("Claim failed", "job_id", job.ID, "error", err)
			continue
		}
		if claimed == nil {
			continue // lost the race to another replica, or no longer pending
		}
		p.dispatch(ctx, claimed)
	}
	return nil
}

// claim transitions a pending job to processing and re-verifies the claim
// by reading the record back: the store has no conditional update, so the
// worker id written with the claim arbitrates races between replicas.
func (p *Pool) claim(ctx context.Context, job *models.Job) (*models.Job, error) {
	// Re-read before patching: the job may have been cancelled (or claimed)
	// since the list call. A cancel landing between this read and the patch
	// below is overwritten; the store has no conditional update, so that
	// one-round-trip window is irreducible (see DESIGN.md).
	fresh, err := p.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status != models.StatusPending {
		return nil, nil
	}

	now := store.FormatTime(p.clock.Now())
	_, err = p.store.UpdateJob(ctx, job.ID, store.Patch{
		"status":           models.StatusProcessing,
		"worker_id":        p.workerID,
		"started_at":       now,
		"progress":         0,
		"progress_message": "Starting",
		"current_step":     "",
	})
	if err != nil {
		return nil, err
	}

	claimed, err := p.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if claimed.Status != models.StatusProcessing || claimed.WorkerID != p.workerID {
		slog.Info("Claim lost to another worker", "job_id", job.ID, "winner", claimed.WorkerID)
		return nil, nil
	}
	return claimed, nil
}

// dispatch runs one claimed job on its own goroutine.
func (p *Pool) dispatch(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.activeJobs[job.ID] = cancel
	p.mu.Unlock()

	jobsInFlight.Inc()
	p.jobWG.Add(1)
	go func() {
		defer p.jobWG.Done()
		defer cancel()
		defer p.release(job.ID)
		defer jobsInFlight.Dec()
		p.processJob(jobCtx, job)
	}()
}

// processJob invokes the pipeline runner and backstops any panic with a
// failed record, preserving the invariant that processing is transient.
func (p *Pool) processJob(ctx context.Context, job *models.Job) {
	log := slog.With("job_id", job.ID, "worker_id", p.workerID)
	log.Info("Job claimed", "url", job.URL)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", "panic", r)
			p.markFailed(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	rep := progress.NewReporter(job.ID, p.store, p.clock)
	err := p.runner.Run(ctx, job, rep)

	p.mu.Lock()
	p.jobsProcessed++
	p.mu.Unlock()

	switch {
	case err == nil:
		jobsProcessedTotal.WithLabelValues("completed").Inc()
		log.Info("Job completed")
	case errors.Is(err, pipeline.ErrCancelled), errors.Is(err, context.Canceled):
		jobsProcessedTotal.WithLabelValues("cancelled").Inc()
		log.Info("Job cancelled")
	default:
		// The runner already persisted the failed state; this is logging
		// plus slot release.
		jobsProcessedTotal.WithLabelValues("failed").Inc()
		log.Warn("Job failed", "error", err)
	}
}

// markFailed is the panic backstop's terminal write.
func (p *Pool) markFailed(jobID, reason string) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	_, err := p.store.UpdateJob(ctx, jobID, store.Patch{
		"status":        models.StatusFailed,
		"error_message": models.TruncateError(reason),
		"completed_at":  store.FormatTime(p.clock.Now()),
	})
	if err != nil {
		slog.Error("Failed to persist panic failure", "job_id", jobID, "error", err)
	}
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

func (p *Pool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}
