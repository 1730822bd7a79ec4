// Package diarize runs the external speaker-diarization collaborator and
// normalizes its output into the diarization artifact.
package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"redub/internal/logging"
	"redub/internal/pipeline"
	"redub/internal/segments"
	"redub/internal/services"
)

const rawOutputFile = "diarization_raw.json"

// Step produces speaker turns for the extracted source audio.
type Step struct {
	commandRunner func(ctx context.Context, name string, args ...string) error
}

func New() *Step { return &Step{} }

// WithCommandRunner sets a custom command runner (for testing).
func (s *Step) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *Step) Name() string      { return "diarize" }
func (s *Step) Outputs() []string { return []string{segments.DiarizationFile} }

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	cfg := env.Config.Diarization

	sourcePath := filepath.Join(env.Workdir, segments.SourceAudioFile)
	if _, err := os.Stat(sourcePath); err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "input", "source audio not extracted", err)
	}

	rawPath := filepath.Join(env.Workdir, rawOutputFile)
	args := []string{
		"--audio", sourcePath,
		"--model", cfg.Model,
		"--output", rawPath,
	}
	if cfg.MinSpeakers > 0 {
		args = append(args, "--min-speakers", strconv.Itoa(cfg.MinSpeakers))
	}
	if cfg.MaxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(cfg.MaxSpeakers))
	}
	if err := s.run(ctx, cfg.Binary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, s.Name(), "diarize", "diarization collaborator failed", err)
	}

	turns, err := loadTurns(rawPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "parse", "diarization output unreadable", err)
	}
	env.Logger().Info("diarization complete", logging.Int("turns", len(turns)))

	if err := segments.WriteArtifact(env.Workdir, segments.DiarizationFile, turns); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist diarization", err)
	}
	return nil
}

func (s *Step) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Env = os.Environ()
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

type diarizationPayload struct {
	Turns []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker"`
	} `json:"turns"`
}

func loadTurns(path string) ([]segments.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload diarizationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse diarization json: %w", err)
	}
	turns := make([]segments.Turn, 0, len(payload.Turns))
	for _, raw := range payload.Turns {
		if raw.End <= raw.Start {
			continue
		}
		turns = append(turns, segments.Turn{Start: raw.Start, End: raw.End, Speaker: raw.Speaker})
	}
	return turns, nil
}
