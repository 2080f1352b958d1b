package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/pipeline"
)

// New wires the four subprocess-backed stage adapters into a pipeline
// stage set. Command paths come from the pipeline configuration handed to
// each stage; each adapter returns the artifacts its tool wrote under the
// stage output directory.
func New() pipeline.Stages {
	return pipeline.Stages{
		Script: Script,
		Audio:  Audio,
		Slides: Slides,
		Video:  Video,
	}
}

// Script invokes the script synthesiser:
//
//	<script-command> --url <url> --output-dir <dir> --lang <primary>
//
// The tool writes script.yaml (and optional script_<lang>.yaml variants).
func Script(ctx context.Context, sourceURL, outputDir string, cfg *config.PipelineConfig) (string, error) {
	args := []string{"--url", sourceURL, "--output-dir", outputDir, "--lang", cfg.PrimaryLang}
	if err := runCommand(ctx, cfg.ScriptCommand, args, nil); err != nil {
		return "", err
	}
	return filepath.Join(outputDir, "script.yaml"), nil
}

// Audio invokes the speech synthesiser. The tool is idempotent per
// utterance: phrase files already present and non-empty are kept.
func Audio(ctx context.Context, scriptPath, outputDir string, cfg *config.PipelineConfig, progress pipeline.ProgressFunc) ([]string, error) {
	args := []string{"--script", scriptPath, "--output-dir", outputDir}
	if err := runCommand(ctx, cfg.AudioCommand, args, progress); err != nil {
		return nil, err
	}
	return collectArtifacts(outputDir, ".wav")
}

// Slides invokes the slide image generator, one image per section, under
// a language subdirectory of outputDir.
func Slides(ctx context.Context, scriptPath, outputDir string, cfg *config.PipelineConfig, apiKey string, progress pipeline.ProgressFunc) ([]string, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("slides API key not configured")
	}
	args := []string{
		"--script", scriptPath,
		"--output-dir", outputDir,
		"--lang", cfg.PrimaryLang,
		"--api-key", apiKey,
	}
	if err := runCommand(ctx, cfg.SlidesCommand, args, progress); err != nil {
		return nil, err
	}
	return collectArtifacts(filepath.Join(outputDir, cfg.PrimaryLang), ".png")
}

// Video invokes the renderer. Not idempotent: the renderer owns its
// remotion/ workspace under outputDir and overwrites previous output.
func Video(ctx context.Context, scriptPath, audioDir, slidesDir, outputDir string, cfg *config.PipelineConfig, progress pipeline.ProgressFunc) (string, error) {
	out := filepath.Join(outputDir, "output_"+cfg.PrimaryLang+".mp4")
	args := []string{
		"--script", scriptPath,
		"--audio-dir", audioDir,
		"--slides-dir", filepath.Join(slidesDir, cfg.PrimaryLang),
		"--workspace", filepath.Join(outputDir, "remotion"),
		"--output", out,
	}
	if err := runCommand(ctx, cfg.VideoCommand, args, progress); err != nil {
		return "", err
	}
	return out, nil
}

// collectArtifacts lists the stage's declared outputs, sorted for stable
// ordering (phrase_0000.wav, phrase_0001.wav, ...).
func collectArtifacts(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list stage outputs: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
