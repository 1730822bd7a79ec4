// Package synth produces target-language speech for every translated
// segment via an external XTTS-style collaborator. Each speaker gets a
// reference clip cut from the source recording so the synthesized voice
// matches the original, and finished clips are cached by speaker and text
// hash.
package synth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"redub/internal/cache"
	"redub/internal/logging"
	"redub/internal/media/audio"
	"redub/internal/pipeline"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/textutil"
)

const refsDir = "refs"

// Step synthesizes one clip per translated segment.
type Step struct {
	cache         *cache.Store
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// New creates the synthesis step. The cache may be nil, disabling reuse.
func New(store *cache.Store) *Step {
	return &Step{cache: store}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Step) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *Step) Name() string      { return "synth" }
func (s *Step) Outputs() []string { return []string{segments.ManifestFile} }

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	cfg := env.Config.TTS
	log := env.Logger()

	segs, err := segments.ReadSegments(env.Workdir, segments.TranslationFile)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "translated segments missing or invalid", err)
	}

	source, err := audio.LoadWAV(filepath.Join(env.Workdir, segments.SourceAudioFile))
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "source audio missing", err)
	}

	refs, err := buildReferences(env.Workdir, segs, source, cfg.RefMinDuration, cfg.RefMaxDuration, log)
	if err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "references", "build speaker references", err)
	}

	clipsDir := filepath.Join(env.Workdir, segments.ClipsDir)
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "prepare", "create clips directory", err)
	}

	manifest := make([]segments.ManifestEntry, 0, len(segs))
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := textutil.Clean(seg.SpokenText())
		if text == "" {
			continue
		}
		env.Notify(pipeline.EventStepProgress, map[string]any{
			"step":    s.Name(),
			"current": i + 1,
			"total":   len(segs),
		})

		clipRel := filepath.Join(segments.ClipsDir, fmt.Sprintf("seg_%03d.wav", i))
		clipAbs := filepath.Join(env.Workdir, clipRel)

		if cached, ok := s.cachedClip(ctx, env, seg.Speaker, text, clipAbs); ok {
			manifest = append(manifest, segments.ManifestEntry{
				Index:    i,
				Speaker:  seg.Speaker,
				Text:     text,
				Audio:    clipRel,
				Duration: cached,
				Cached:   true,
			})
			continue
		}

		clip, synthErr := s.synthesize(ctx, env, text, refs[seg.Speaker])
		if synthErr != nil {
			// A single failed segment must not sink the job. Use silence
			// matching the source span and move on.
			log.Warn("synthesis failed, substituting silence",
				logging.Int("segment", i),
				logging.Error(synthErr))
			clip = audio.Silence(seg.Duration(), cfg.SampleRate)
		}
		if err := audio.SaveWAV(clipAbs, clip); err != nil {
			return services.Wrap(services.ErrTransient, s.Name(), "write", "persist synthesized clip", err)
		}
		if synthErr == nil && s.cache != nil && cfg.Cache {
			if err := s.cache.PutSynthesis(ctx, cacheScope(env), seg.Speaker, textutil.Hash(text), clipAbs); err != nil {
				log.Warn("synthesis cache write failed", logging.Error(err))
			}
		}
		manifest = append(manifest, segments.ManifestEntry{
			Index:    i,
			Speaker:  seg.Speaker,
			Text:     text,
			Audio:    clipRel,
			Duration: clip.Seconds(),
		})
	}

	if err := segments.WriteArtifact(env.Workdir, segments.ManifestFile, manifest); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist synthesis manifest", err)
	}
	return nil
}

// cacheScope keys cached clips to one job. Diarization labels are assigned
// per recording, so SPEAKER_00 in one interview is a different voice than
// SPEAKER_00 in another.
func cacheScope(env *pipeline.Env) string {
	return filepath.Base(env.Workdir)
}

// cachedClip copies a cached clip into place when one exists. It returns the
// clip duration and whether the cache was hit.
func (s *Step) cachedClip(ctx context.Context, env *pipeline.Env, speaker, text, dest string) (float64, bool) {
	if s.cache == nil || !env.Config.TTS.Cache {
		return 0, false
	}
	path, ok := s.cache.Synthesis(ctx, cacheScope(env), speaker, textutil.Hash(text))
	if !ok {
		return 0, false
	}
	if err := copyFile(path, dest); err != nil {
		return 0, false
	}
	clip, err := audio.LoadWAV(dest)
	if err != nil {
		return 0, false
	}
	return clip.Seconds(), true
}

// synthesize runs the collaborator once per text chunk and concatenates the
// resulting audio.
func (s *Step) synthesize(ctx context.Context, env *pipeline.Env, text, refPath string) (audio.Buffer, error) {
	cfg := env.Config.TTS

	out := audio.Buffer{Rate: cfg.SampleRate}
	for n, chunk := range textutil.SplitForSynthesis(text, cfg.MaxCharsPerCall) {
		chunkPath := filepath.Join(env.Workdir, fmt.Sprintf("tts_chunk_%02d.wav", n))
		args := []string{
			"--text", chunk,
			"--model", cfg.Model,
			"--language", env.Config.NormalizedTargetLanguage(),
			"--sample-rate", strconv.Itoa(cfg.SampleRate),
			"--output", chunkPath,
		}
		if refPath != "" {
			args = append(args, "--speaker-wav", refPath)
		}
		if err := s.run(ctx, cfg.Binary, args...); err != nil {
			return audio.Buffer{}, err
		}
		buf, err := audio.LoadWAV(chunkPath)
		_ = os.Remove(chunkPath)
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("load synthesized chunk: %w", err)
		}
		out.Samples = append(out.Samples, audio.Resample(buf, cfg.SampleRate).Samples...)
	}
	if out.Empty() {
		return audio.Buffer{}, fmt.Errorf("collaborator produced no audio")
	}
	return out, nil
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

// buildReferences cuts a voice reference clip per speaker from the source
// recording. The longest spans make the best cloning references, so each
// speaker's segments are taken longest-first, preferring those that meet
// minDuration on their own, and concatenated up to maxDuration seconds.
func buildReferences(workdir string, segs []segments.Segment, source audio.Buffer, minDuration, maxDuration float64, log *slog.Logger) (map[string]string, error) {
	dir := filepath.Join(workdir, refsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	spans := make(map[string][]segments.Segment)
	order := make([]string, 0, 4)
	for _, seg := range segs {
		if _, seen := spans[seg.Speaker]; !seen {
			order = append(order, seg.Speaker)
		}
		spans[seg.Speaker] = append(spans[seg.Speaker], seg)
	}

	refs := make(map[string]string, len(order))
	for _, speaker := range order {
		candidates := make([]segments.Segment, len(spans[speaker]))
		copy(candidates, spans[speaker])
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Duration() > candidates[j].Duration()
		})
		usable := candidates[:0:0]
		for _, seg := range candidates {
			if seg.Duration() >= minDuration {
				usable = append(usable, seg)
			}
		}
		if len(usable) == 0 {
			usable = candidates
		}

		ref := audio.Buffer{Rate: source.Rate}
		for _, seg := range usable {
			if ref.Seconds() >= maxDuration {
				break
			}
			remain := maxDuration - ref.Seconds()
			end := seg.End
			if seg.Duration() > remain {
				end = seg.Start + remain
			}
			part := audio.Extract(source, seg.Start, end)
			ref.Samples = append(ref.Samples, part.Samples...)
		}
		if ref.Empty() {
			continue
		}
		if ref.Seconds() < minDuration {
			log.Warn("speaker reference shorter than configured minimum",
				logging.String("speaker", speaker),
				logging.Float64("seconds", ref.Seconds()))
		}
		path := filepath.Join(dir, speaker+".wav")
		if err := audio.SaveWAV(path, ref); err != nil {
			return nil, err
		}
		refs[speaker] = path
	}
	return refs, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
