package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Validate checks configuration invariants that would otherwise surface as
// confusing failures deep inside a pipeline run.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}

	if c.Diarization.MinSpeakers < 1 {
		problems = append(problems, "diarization.min_speakers must be at least 1")
	}
	if c.Diarization.MaxSpeakers < c.Diarization.MinSpeakers {
		problems = append(problems, "diarization.max_speakers must not be below min_speakers")
	}

	if c.Merge.MinSegmentDuration < 0 {
		problems = append(problems, "merge.min_segment_duration must not be negative")
	}
	if c.Merge.Smoothing && c.Merge.SmoothingWindow%2 == 0 {
		problems = append(problems, "merge.smoothing_window must be odd")
	}

	if _, err := language.Parse(c.Translation.SourceLanguage); err != nil {
		problems = append(problems, fmt.Sprintf("translation.source_language %q is not a valid language tag", c.Translation.SourceLanguage))
	}
	if _, err := language.Parse(c.Translation.TargetLanguage); err != nil {
		problems = append(problems, fmt.Sprintf("translation.target_language %q is not a valid language tag", c.Translation.TargetLanguage))
	}

	if c.TTS.SampleRate <= 0 {
		problems = append(problems, "tts.sample_rate must be positive")
	}
	if c.TTS.MaxCharsPerCall <= 0 {
		problems = append(problems, "tts.max_chars_per_call must be positive")
	}
	if c.TTS.RefMinDuration <= 0 || c.TTS.RefMaxDuration < c.TTS.RefMinDuration {
		problems = append(problems, "tts.ref_min_duration must be positive and no greater than ref_max_duration")
	}

	if c.Render.SampleRate <= 0 {
		problems = append(problems, "render.sample_rate must be positive")
	}
	if c.Render.CrossfadeMS < 0 {
		problems = append(problems, "render.crossfade_ms must not be negative")
	}
	if c.Render.StretchMin <= 0 {
		problems = append(problems, "render.stretch_min must be positive")
	}
	if c.Render.StretchMax < c.Render.StretchMin {
		problems = append(problems, "render.stretch_max must not be below stretch_min")
	}

	if c.Workflow.MaxConcurrentJobs < 1 {
		problems = append(problems, "workflow.max_concurrent_jobs must be at least 1")
	}
	if c.Workflow.MaxInputMinutes < 1 {
		problems = append(problems, "workflow.max_input_minutes must be at least 1")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// NormalizedSourceLanguage returns the canonical source language tag.
func (c *Config) NormalizedSourceLanguage() string {
	return normalizeLanguage(c.Translation.SourceLanguage)
}

// NormalizedTargetLanguage returns the canonical target language tag.
func (c *Config) NormalizedTargetLanguage() string {
	return normalizeLanguage(c.Translation.TargetLanguage)
}

func normalizeLanguage(value string) string {
	tag, err := language.Parse(strings.TrimSpace(value))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(value))
	}
	base, _ := tag.Base()
	return base.String()
}
