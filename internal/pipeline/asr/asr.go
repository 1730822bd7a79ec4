// Package asr transcribes the source recording with an external WhisperX
// style collaborator and normalizes its output into the transcript artifact.
package asr

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
	"redub/internal/media/audio"
	"redub/internal/pipeline"
	"redub/internal/segments"
	"redub/internal/services"
)

const asrSampleRate = 16000

// Step extracts the source audio track and transcribes it.
type Step struct {
	commandRunner func(ctx context.Context, name string, args ...string) error
}

func New() *Step { return &Step{} }

// WithCommandRunner sets a custom command runner (for testing).
func (s *Step) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *Step) Name() string { return "asr" }

func (s *Step) Outputs() []string {
	return []string{segments.SourceAudioFile, segments.TranscriptFile}
}

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	cfg := env.Config

	sourcePath := filepath.Join(env.Workdir, segments.SourceAudioFile)
	if err := s.extract(ctx, cfg.FFmpegBinary(), env.InputPath, sourcePath); err != nil {
		return services.Wrap(services.ErrExternalTool, s.Name(), "extract", "source audio extraction failed", err)
	}

	args := buildArgs(sourcePath, env.Workdir, cfg.ASR.Model, cfg.ASR.Language, cfg.ASR.BatchSize)
	if err := s.run(ctx, cfg.ASR.Binary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, s.Name(), "transcribe", "transcription collaborator failed", err)
	}

	rawPath := rawOutputPath(sourcePath, env.Workdir)
	segs, err := loadTranscript(rawPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "parse", "transcription output unreadable", err)
	}
	env.Logger().Info("transcription complete", logging.Int("segments", len(segs)))

	if err := segments.WriteArtifact(env.Workdir, segments.TranscriptFile, segs); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist transcript", err)
	}
	return nil
}

func (s *Step) extract(ctx context.Context, ffmpegBinary, source, dest string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, ffmpegBinary, "-i", source, dest)
	}
	return audio.ExtractWAV(ctx, ffmpegBinary, source, dest, asrSampleRate)
}

func (s *Step) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func buildArgs(source, outputDir, model, language string, batchSize int) []string {
	args := []string{
		source,
		"--model", model,
		"--batch_size", strconv.Itoa(batchSize),
		"--output_dir", outputDir,
		"--output_format", "json",
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	return args
}

// rawOutputPath derives the collaborator's JSON output path from the source
// basename, following the WhisperX naming convention.
func rawOutputPath(source, outputDir string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(outputDir, base+".json")
}

type transcriptPayload struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func loadTranscript(path string) ([]segments.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload transcriptPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse transcript json: %w", err)
	}
	segs := make([]segments.Segment, 0, len(payload.Segments))
	for _, raw := range payload.Segments {
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			continue
		}
		segs = append(segs, segments.Segment{Start: raw.Start, End: raw.End, Text: text})
	}
	return segs, nil
}
