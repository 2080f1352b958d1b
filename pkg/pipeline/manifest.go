package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScriptManifest is the stage-1 output consumed by the later stages. The
// runner only reads enough of it to sanity-check the artifact and size the
// progress messages; the stages own the full schema.
type ScriptManifest struct {
	Title    string            `yaml:"title"`
	Lang     string            `yaml:"lang"`
	Sections []manifestSection `yaml:"sections"`
}

type manifestSection struct {
	Heading string   `yaml:"heading"`
	Phrases []string `yaml:"phrases"`
}

// PhraseCount returns the total number of utterances across sections.
func (m *ScriptManifest) PhraseCount() int {
	n := 0
	for _, s := range m.Sections {
		n += len(s.Phrases)
	}
	return n
}

// loadManifest parses a script.yaml. A script with no sections is treated
// as a stage failure: the later stages would produce an empty video.
func loadManifest(path string) (*ScriptManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script manifest: %w", err)
	}
	var m ScriptManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse script manifest: %w", err)
	}
	if len(m.Sections) == 0 {
		return nil, fmt.Errorf("script manifest has no sections")
	}
	return &m, nil
}
