package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/store"
)

// Store is the record-store surface the runner needs for terminal writes.
type Store interface {
	UpdateJob(ctx context.Context, id string, patch store.Patch) (*models.Job, error)
}

// Reporter receives progress for one in-flight job and answers
// cancellation polls. Implemented by progress.Reporter.
type Reporter interface {
	SetStep(ctx context.Context, step models.Step, bandStart, bandEnd int, message string)
	Report(ctx context.Context, done, total int, message string)
	Finalise(ctx context.Context, pct int, message string)
	Cancelled(ctx context.Context) bool
}

// Runner drives the four stages for one job inside its artifact directory.
type Runner struct {
	stages   Stages
	store    Store
	cfg      *config.PipelineConfig
	dataRoot string
	clock    clock.Clock
}

// NewRunner creates a pipeline runner.
func NewRunner(stages Stages, st Store, cfg *config.PipelineConfig, dataRoot string, clk clock.Clock) *Runner {
	return &Runner{stages: stages, store: st, cfg: cfg, dataRoot: dataRoot, clock: clk}
}

// Run executes the pipeline and persists the terminal state:
//
//   - success: status=completed, progress=100, video_path, video_size
//   - failure: status=failed, error_message (one line, truncated)
//   - cancellation: status untouched (the endpoint owns it), artifacts
//     removed best-effort, ErrCancelled returned
//
// Stage failures never retry; artifacts from completed stages stay on disk
// until expiry so a resubmission of the same job id can reuse them.
func (r *Runner) Run(ctx context.Context, job *models.Job, rep Reporter) error {
	log := slog.With("job_id", job.ID)
	jobDir := filepath.Join(r.dataRoot, "jobs", job.ID)

	scriptDir := filepath.Join(jobDir, "script")
	audioDir := filepath.Join(jobDir, "audio")
	slidesDir := filepath.Join(jobDir, "slides")
	for _, dir := range []string{scriptDir, audioDir, slidesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return r.fail(ctx, job, log, fmt.Errorf("create artifact directory: %w", err))
		}
	}

	// Stage 1: script.
	if r.cancelled(ctx, rep) {
		return r.abandon(job, jobDir, log)
	}
	scriptBand := bandFor(models.StepScript)
	rep.SetStep(ctx, models.StepScript, scriptBand.start, scriptBand.end, "Generating script")
	scriptPath, err := r.runScript(ctx, job, scriptDir)
	if err != nil {
		return r.stageDone(ctx, job, jobDir, log, rep, models.StepScript, err)
	}
	manifest, err := loadManifest(scriptPath)
	if err != nil {
		return r.fail(ctx, job, log, &StageError{Step: models.StepScript, Err: err})
	}
	rep.Finalise(ctx, scriptBand.end, fmt.Sprintf("Script ready: %d sections, %d phrases",
		len(manifest.Sections), manifest.PhraseCount()))

	// Stage 2: audio.
	if r.cancelled(ctx, rep) {
		return r.abandon(job, jobDir, log)
	}
	audioBand := bandFor(models.StepAudio)
	rep.SetStep(ctx, models.StepAudio, audioBand.start, audioBand.end, "Synthesising speech")
	audioPaths, err := r.stages.Audio(ctx, scriptPath, audioDir, r.cfg, func(done, total int, message string) {
		rep.Report(ctx, done, total, message)
	})
	if err == nil {
		err = verifyArtifacts(models.StepAudio, audioPaths)
	}
	if err != nil {
		return r.stageDone(ctx, job, jobDir, log, rep, models.StepAudio, err)
	}
	rep.Finalise(ctx, audioBand.end, fmt.Sprintf("Audio ready: %d utterances", len(audioPaths)))

	// Stage 3: slides.
	if r.cancelled(ctx, rep) {
		return r.abandon(job, jobDir, log)
	}
	slidesBand := bandFor(models.StepSlides)
	rep.SetStep(ctx, models.StepSlides, slidesBand.start, slidesBand.end, "Generating slides")
	slidePaths, err := r.stages.Slides(ctx, scriptPath, slidesDir, r.cfg, r.cfg.SlidesAPIKey, func(done, total int, message string) {
		rep.Report(ctx, done, total, message)
	})
	if err == nil {
		err = verifyArtifacts(models.StepSlides, slidePaths)
	}
	if err != nil {
		return r.stageDone(ctx, job, jobDir, log, rep, models.StepSlides, err)
	}
	rep.Finalise(ctx, slidesBand.end, fmt.Sprintf("Slides ready: %d images", len(slidePaths)))

	// Stage 4: video. The renderer runs as a subprocess; cancelling the
	// context kills it mid-render.
	if r.cancelled(ctx, rep) {
		return r.abandon(job, jobDir, log)
	}
	videoBand := bandFor(models.StepVideo)
	rep.SetStep(ctx, models.StepVideo, videoBand.start, videoBand.end, "Rendering video")
	videoPath, err := r.stages.Video(ctx, scriptPath, audioDir, slidesDir, jobDir, r.cfg, func(done, total int, message string) {
		rep.Report(ctx, done, total, message)
	})
	if err == nil {
		err = verifyFile(models.StepVideo, videoPath)
	}
	if err != nil {
		return r.stageDone(ctx, job, jobDir, log, rep, models.StepVideo, err)
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return r.fail(ctx, job, log, &StageError{Step: models.StepVideo, Err: err})
	}
	rep.Finalise(ctx, videoBand.end, "Video ready")

	relPath := path.Join("jobs", job.ID, filepath.Base(videoPath))
	now := store.FormatTime(r.clock.Now())
	_, err = r.store.UpdateJob(context.Background(), job.ID, store.Patch{
		"status":           models.StatusCompleted,
		"progress":         100,
		"progress_message": "Completed",
		"current_step":     "",
		"video_path":       relPath,
		"video_size":       info.Size(),
		"completed_at":     now,
	})
	if err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	log.Info("Pipeline completed", "video_path", relPath, "video_size", info.Size())
	return nil
}

// runScript invokes stage 1, skipping it when a non-empty script.yaml is
// already present (stage 1 is idempotent at the whole-artifact level).
func (r *Runner) runScript(ctx context.Context, job *models.Job, scriptDir string) (string, error) {
	existing := filepath.Join(scriptDir, "script.yaml")
	if info, err := os.Stat(existing); err == nil && info.Size() > 0 {
		return existing, nil
	}
	return r.stages.Script(ctx, job.URL, scriptDir, r.cfg)
}

// stageDone resolves a stage error: a failure caused by cancellation is
// routed to the cancellation path, everything else becomes a failed record.
func (r *Runner) stageDone(ctx context.Context, job *models.Job, jobDir string, log *slog.Logger, rep Reporter, step models.Step, err error) error {
	if ctx.Err() != nil || rep.Cancelled(ctx) {
		return r.abandon(job, jobDir, log)
	}
	if _, ok := err.(*StageError); !ok {
		err = &StageError{Step: step, Err: err}
	}
	return r.fail(ctx, job, log, err)
}

// fail persists the failed terminal state. Progress is preserved at its
// last value.
func (r *Runner) fail(_ context.Context, job *models.Job, log *slog.Logger, cause error) error {
	now := store.FormatTime(r.clock.Now())
	_, err := r.store.UpdateJob(context.Background(), job.ID, store.Patch{
		"status":        models.StatusFailed,
		"error_message": models.TruncateError(cause.Error()),
		"completed_at":  now,
	})
	if err != nil {
		log.Error("Failed to persist failure", "cause", cause, "error", err)
	}
	log.Warn("Pipeline failed", "error", cause)
	return cause
}

// abandon handles observed cancellation: artifacts are removed best-effort
// and the cancelled status written by the endpoint is left untouched.
func (r *Runner) abandon(job *models.Job, jobDir string, log *slog.Logger) error {
	if err := os.RemoveAll(jobDir); err != nil {
		log.Warn("Failed to remove artifacts of cancelled job", "error", err)
	}
	log.Info("Pipeline abandoned after cancellation")
	return ErrCancelled
}

// cancelled is the stage-boundary cancellation check.
func (r *Runner) cancelled(ctx context.Context, rep Reporter) bool {
	return ctx.Err() != nil || rep.Cancelled(ctx)
}

// verifyFile treats a missing or zero-byte artifact as a stage failure.
func verifyFile(step models.Step, p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return &StageError{Step: step, Err: fmt.Errorf("declared artifact missing: %s", p)}
	}
	if info.Size() == 0 {
		return &StageError{Step: step, Err: fmt.Errorf("artifact is empty: %s", p)}
	}
	return nil
}

func verifyArtifacts(step models.Step, paths []string) error {
	if len(paths) == 0 {
		return &StageError{Step: step, Err: fmt.Errorf("stage produced no artifacts")}
	}
	for _, p := range paths {
		if err := verifyFile(step, p); err != nil {
			return err
		}
	}
	return nil
}
