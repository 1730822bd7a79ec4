// Package render assembles the dubbed audio track: it stretches synthesized
// clips toward their source durations, places them on a new timeline that
// preserves conversational rhythm, mixes them with crossfades, and writes the
// final track plus the source-to-target timeline map.
package render

import (
	"context"
	"errors"
	"path/filepath"

	"redub/internal/logging"
	"redub/internal/media/audio"
	"redub/internal/pipeline"
	"redub/internal/segments"
	"redub/internal/services"
)

// Step renders dubbed.wav and timeline_map.json from the translated segment
// list and the synthesis manifest.
type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Name() string { return "render" }

func (s *Step) Outputs() []string {
	return []string{segments.DubbedFile, segments.TimelineFile}
}

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	segs, err := segments.ReadSegments(env.Workdir, segments.TranslationFile)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "translated segments missing or invalid", err)
	}
	if len(segs) == 0 {
		env.Logger().Warn("no segments to render", logging.String("workdir", env.Workdir))
		env.Notify(pipeline.EventStepProgress, map[string]any{
			"step":    s.Name(),
			"message": "nothing to render",
		})
		return nil
	}

	var manifest []segments.ManifestEntry
	if err := segments.ReadArtifact(env.Workdir, segments.ManifestFile, &manifest); err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "synthesis manifest missing or invalid", err)
	}

	cfg := env.Config.Render
	clips := make(map[int]audio.Buffer, len(manifest))
	for _, entry := range manifest {
		clip, err := audio.LoadWAV(filepath.Join(env.Workdir, entry.Audio))
		if err != nil {
			return services.Wrap(services.ErrValidation, s.Name(), "load", "synthesized clip unreadable", err)
		}
		clips[entry.Index] = audio.Resample(clip, cfg.SampleRate)
	}

	mixed, timeline, err := Render(segs, clips, Options{
		SampleRate:  cfg.SampleRate,
		CrossfadeMS: cfg.CrossfadeMS,
		StretchMin:  cfg.StretchMin,
		StretchMax:  cfg.StretchMax,
		TargetLUFS:  cfg.TargetLUFS,
	})
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "mix", "timeline assembly failed", err)
	}

	if err := audio.SaveWAV(filepath.Join(env.Workdir, segments.DubbedFile), mixed); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist dubbed audio", err)
	}
	if err := segments.WriteArtifact(env.Workdir, segments.TimelineFile, timeline); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist timeline map", err)
	}
	return nil
}

// Options controls the render pass.
type Options struct {
	SampleRate  int
	CrossfadeMS int
	StretchMin  float64
	StretchMax  float64
	TargetLUFS  float64
}

// ErrNoSegments reports an empty segment list passed to Render.
var ErrNoSegments = errors.New("nothing to render")

// Render runs the four-phase assembly over segments and their synthesized
// clips, keyed by segment index. Segments without a clip keep their source
// timestamps on the target timeline.
func Render(segs []segments.Segment, clips map[int]audio.Buffer, opts Options) (audio.Buffer, []segments.TimelineEntry, error) {
	if len(segs) == 0 {
		return audio.Buffer{}, nil, ErrNoSegments
	}

	resolved := resolveDurations(segs, clips, opts)
	timeline := placeSegments(segs, resolved)
	mixed := mix(timeline, resolved, opts)

	mixed = trimTail(mixed)
	if normalized, err := audio.NormalizeLoudness(mixed, opts.TargetLUFS); err == nil {
		mixed = normalized
	}
	mixed = audio.Clip(mixed)
	return mixed, timeline, nil
}

type resolvedClip struct {
	buf  audio.Buffer
	rate float64
}

// resolveDurations stretches each clip toward its source segment duration
// with the stretch rate clamped to the configured bounds. When the clamp
// engages, the realized duration keeps the residual mismatch.
func resolveDurations(segs []segments.Segment, clips map[int]audio.Buffer, opts Options) map[int]resolvedClip {
	out := make(map[int]resolvedClip, len(clips))
	for i, seg := range segs {
		clip, ok := clips[i]
		if !ok || clip.Empty() {
			continue
		}
		rate := audio.ResolveRate(clip.Seconds(), seg.Duration(), opts.StretchMin, opts.StretchMax)
		stretched := audio.TimeStretch(clip, rate)
		out[i] = resolvedClip{buf: stretched, rate: rate}
	}
	return out
}

// placeSegments walks segments in order with a cursor starting at the first
// segment's source start, preserving each original inter-segment gap.
// Audio-less segments fall back to their source timestamps so downstream
// placements stay synchronized.
func placeSegments(segs []segments.Segment, resolved map[int]resolvedClip) []segments.TimelineEntry {
	timeline := make([]segments.TimelineEntry, 0, len(segs))
	cursor := segs[0].Start
	for i, seg := range segs {
		entry := segments.TimelineEntry{
			Index:       i,
			Speaker:     seg.Speaker,
			SourceStart: seg.Start,
			SourceEnd:   seg.End,
			Rate:        1,
		}
		var end float64
		if clip, ok := resolved[i]; ok {
			entry.TargetStart = cursor
			end = cursor + clip.buf.Seconds()
			entry.Rate = clip.rate
		} else {
			entry.TargetStart = seg.Start
			end = seg.End
		}
		entry.TargetEnd = end
		timeline = append(timeline, entry)

		if i+1 < len(segs) {
			gap := segs[i+1].Start - seg.End
			cursor = end + gap
		}
	}
	return timeline
}

// mix writes each clip at its target start sample into a growing buffer,
// crossfading additively wherever a placement lands on existing content.
func mix(timeline []segments.TimelineEntry, resolved map[int]resolvedClip, opts Options) audio.Buffer {
	var lastEnd float64
	for _, entry := range timeline {
		if entry.TargetEnd > lastEnd {
			lastEnd = entry.TargetEnd
		}
	}
	out := audio.Silence(lastEnd+1, opts.SampleRate)
	fade := opts.SampleRate * opts.CrossfadeMS / 1000

	for _, entry := range timeline {
		clip, ok := resolved[entry.Index]
		if !ok {
			continue
		}
		start := int(entry.TargetStart * float64(opts.SampleRate))
		if start < 0 {
			start = 0
		}
		if need := start + len(clip.buf.Samples); need > len(out.Samples) {
			grown := make([]float32, need)
			copy(grown, out.Samples)
			out.Samples = grown
		}

		// Landing on existing content crossfades across the boundary: the
		// tail already in the buffer fades out just before the start sample
		// and the incoming clip fades in from it.
		fadeIn := 0
		if start < len(out.Samples) && out.Samples[start] != 0 {
			fadeOut := fade
			if fadeOut > start {
				fadeOut = start
			}
			for i := 0; i < fadeOut; i++ {
				t := float32(i+1) / float32(fadeOut)
				out.Samples[start-fadeOut+i] *= 1 - t
			}
			fadeIn = fade
			if fadeIn > len(clip.buf.Samples) {
				fadeIn = len(clip.buf.Samples)
			}
		}
		for i, s := range clip.buf.Samples {
			if i < fadeIn {
				s *= float32(i) / float32(fadeIn)
			}
			out.Samples[start+i] += s
		}
	}
	return out
}

// trimTail cuts the buffer to the last nonzero sample plus one second of
// trailing silence.
func trimTail(buf audio.Buffer) audio.Buffer {
	last := audio.LastNonZero(buf)
	if last < 0 {
		return buf
	}
	end := last + buf.Rate
	if end > len(buf.Samples) {
		end = len(buf.Samples)
	}
	buf.Samples = buf.Samples[:end]
	return buf
}
