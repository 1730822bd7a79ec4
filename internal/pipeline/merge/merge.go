// Package merge aligns transcript segments with diarization turns and
// produces the speaker-attributed segment list the rest of the pipeline
// consumes.
package merge

import (
	"context"

	"redub/internal/pipeline"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/textutil"
)

// Step merges the transcript and diarization artifacts into merged.json.
type Step struct{}

func New() *Step { return &Step{} }

func (s *Step) Name() string      { return "merge" }
func (s *Step) Outputs() []string { return []string{segments.MergedFile} }

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	segs, err := segments.ReadSegments(env.Workdir, segments.TranscriptFile)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "transcript artifact missing or invalid", err)
	}
	turns, err := segments.ReadTurns(env.Workdir, segments.DiarizationFile)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "diarization artifact missing or invalid", err)
	}

	cfg := env.Config.Merge
	merged := Merge(segs, turns, Options{
		MinSegmentDuration: cfg.MinSegmentDuration,
		Smoothing:          cfg.Smoothing,
		SmoothingWindow:    cfg.SmoothingWindow,
	})

	if err := segments.WriteArtifact(env.Workdir, segments.MergedFile, merged); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist merged segments", err)
	}
	return nil
}

// Options controls the merge pass.
type Options struct {
	MinSegmentDuration float64
	Smoothing          bool
	SmoothingWindow    int
}

// Merge runs the full alignment pass: speaker assignment by maximal turn
// overlap, empty-text filtering, absorption of sub-minimum same-speaker
// fragments, and optional majority-vote label smoothing.
func Merge(segs []segments.Segment, turns []segments.Turn, opts Options) []segments.Segment {
	out := AssignSpeakers(segs, turns)
	out = dropEmpty(out)
	out = AbsorbShort(out, opts.MinSegmentDuration)
	if opts.Smoothing {
		out = SmoothSpeakers(out, opts.SmoothingWindow)
	}
	return out
}

// AssignSpeakers labels each segment with the speaker of the turn that
// overlaps it the most. Ties go to the earliest-starting turn; a segment
// overlapping no turn is labeled UNKNOWN.
func AssignSpeakers(segs []segments.Segment, turns []segments.Turn) []segments.Segment {
	out := make([]segments.Segment, len(segs))
	for i, seg := range segs {
		seg.Text = textutil.Clean(seg.Text)
		seg.Speaker = segments.UnknownSpeaker

		best := 0.0
		bestStart := 0.0
		for _, turn := range turns {
			ov := turn.Overlap(seg.Start, seg.End)
			if ov <= 0 {
				continue
			}
			if ov > best || (ov == best && turn.Start < bestStart) {
				best = ov
				bestStart = turn.Start
				seg.Speaker = turn.Speaker
			}
		}
		out[i] = seg
	}
	return out
}

func dropEmpty(segs []segments.Segment) []segments.Segment {
	out := segs[:0:0]
	for _, seg := range segs {
		if seg.Text != "" {
			out = append(out, seg)
		}
	}
	return out
}

// AbsorbShort folds segments shorter than minDuration into the preceding
// segment when both carry the same speaker. Short segments without such a
// predecessor are kept as-is.
func AbsorbShort(segs []segments.Segment, minDuration float64) []segments.Segment {
	if minDuration <= 0 {
		return segs
	}
	var out []segments.Segment
	for _, seg := range segs {
		if seg.Duration() >= minDuration {
			out = append(out, seg)
			continue
		}
		if n := len(out); n > 0 && out[n-1].Speaker == seg.Speaker {
			out[n-1].End = seg.End
			out[n-1].Text = out[n-1].Text + " " + seg.Text
			continue
		}
		out = append(out, seg)
	}
	return out
}

// SmoothSpeakers replaces each interior label with the majority vote of an
// odd-sized window centered on it. Positions where the window does not fit
// keep their original label.
func SmoothSpeakers(segs []segments.Segment, window int) []segments.Segment {
	if window < 3 || window%2 == 0 || len(segs) < window {
		return segs
	}
	half := window / 2
	labels := make([]string, len(segs))
	for i := range segs {
		labels[i] = segs[i].Speaker
	}
	out := make([]segments.Segment, len(segs))
	copy(out, segs)
	for i := half; i < len(segs)-half; i++ {
		counts := make(map[string]int, window)
		for j := i - half; j <= i+half; j++ {
			counts[labels[j]]++
		}
		bestLabel := labels[i]
		bestCount := counts[bestLabel]
		for j := i - half; j <= i+half; j++ {
			if counts[labels[j]] > bestCount {
				bestCount = counts[labels[j]]
				bestLabel = labels[j]
			}
		}
		out[i].Speaker = bestLabel
	}
	return out
}
