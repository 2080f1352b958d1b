// Package pipeline executes the four-stage script → audio → slides → video
// pipeline for one job, translating stage-local progress onto global
// percentage bands and honouring cancellation at stage boundaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
)

// ErrCancelled is returned by Run when the job was cancelled; the worker
// must not overwrite the cancelled status the endpoint already wrote.
var ErrCancelled = errors.New("job cancelled")

// ProgressFunc receives stage-local progress: done of total, with a short
// human-readable message.
type ProgressFunc func(done, total int, message string)

// ScriptFunc synthesises the script for a source URL into outputDir and
// returns the path of the primary script.yaml.
type ScriptFunc func(ctx context.Context, sourceURL, outputDir string, cfg *config.PipelineConfig) (string, error)

// AudioFunc renders per-utterance audio files from a script into outputDir.
type AudioFunc func(ctx context.Context, scriptPath, outputDir string, cfg *config.PipelineConfig, progress ProgressFunc) ([]string, error)

// SlidesFunc renders per-section slide images into outputDir/<lang>/.
type SlidesFunc func(ctx context.Context, scriptPath, outputDir string, cfg *config.PipelineConfig, apiKey string, progress ProgressFunc) ([]string, error)

// VideoFunc assembles the final video and returns its path.
type VideoFunc func(ctx context.Context, scriptPath, audioDir, slidesDir, outputDir string, cfg *config.PipelineConfig, progress ProgressFunc) (string, error)

// Stages bundles the four stage collaborators. The core only knows their
// artifact and progress contracts; the implementations live behind these
// function types.
type Stages struct {
	Script ScriptFunc
	Audio  AudioFunc
	Slides SlidesFunc
	Video  VideoFunc
}

// StageError marks a failure inside a specific stage.
type StageError struct {
	Step models.Step
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// band is the global percentage range assigned to one stage.
type band struct {
	step       models.Step
	start, end int
}

// stageBands lists the four bands in execution order. Stage-local progress
// is rebased onto these so the global percentage never dips between stages.
var stageBands = []band{
	{models.StepScript, 0, 20},
	{models.StepAudio, 20, 55},
	{models.StepSlides, 55, 80},
	{models.StepVideo, 80, 100},
}

// bandFor returns the percentage band assigned to a step.
func bandFor(step models.Step) band {
	for _, b := range stageBands {
		if b.step == step {
			return b
		}
	}
	return band{step: step, start: 0, end: 100}
}
