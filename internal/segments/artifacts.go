package segments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact filenames written into a job workdir by the pipeline steps.
const (
	TranscriptFile  = "transcript.json"
	DiarizationFile = "diarization.json"
	MergedFile      = "merged.json"
	TranslationFile = "translations.json"
	ManifestFile    = "synthesis_manifest.json"
	TimelineFile    = "timeline_map.json"
	DubbedFile      = "dubbed.wav"
	SourceAudioFile = "source.wav"
	ClipsDir        = "clips"
)

// ReadArtifact decodes a JSON artifact from the workdir into out.
func ReadArtifact(workdir, name string, out any) error {
	data, err := os.ReadFile(filepath.Join(workdir, name))
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode artifact %s: %w", name, err)
	}
	return nil
}

// WriteArtifact encodes value as indented JSON and writes it into the
// workdir via a temp file rename so readers never see a partial artifact.
func WriteArtifact(workdir, name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", name, err)
	}
	path := filepath.Join(workdir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

// ReadSegments loads a segment list artifact.
func ReadSegments(workdir, name string) ([]Segment, error) {
	var segs []Segment
	if err := ReadArtifact(workdir, name, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// ReadTurns loads a diarization turn list artifact.
func ReadTurns(workdir, name string) ([]Turn, error) {
	var turns []Turn
	if err := ReadArtifact(workdir, name, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}
