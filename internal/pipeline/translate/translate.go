// Package translate fills in target-language text for merged segments using
// an external NLLB-style collaborator, with a content-hash cache so repeated
// text is never re-translated.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"redub/internal/cache"
	"redub/internal/logging"
	"redub/internal/pipeline"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/textutil"
)

// Step translates merged segments into the target language.
type Step struct {
	cache         *cache.Store
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// New creates the translation step. The cache may be nil, disabling reuse.
func New(store *cache.Store) *Step {
	return &Step{cache: store}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Step) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

func (s *Step) Name() string      { return "translate" }
func (s *Step) Outputs() []string { return []string{segments.TranslationFile} }

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	cfg := env.Config.Translation

	segs, err := segments.ReadSegments(env.Workdir, segments.MergedFile)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.Name(), "read", "merged segments missing or invalid", err)
	}

	// Resolve cached translations first so the collaborator only sees the
	// remainder.
	pending := make([]int, 0, len(segs))
	hits := 0
	for i := range segs {
		if segs[i].Text == "" {
			continue
		}
		if s.cache != nil && cfg.Cache {
			if target, ok := s.cache.Translation(ctx, textutil.Hash(segs[i].Text)); ok {
				segs[i].Translation = target
				hits++
				continue
			}
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		translated, err := s.translateBatch(ctx, env, segs, pending)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// The recording is still watchable with untranslated lines, so a
			// collaborator failure keeps the source text instead of sinking
			// the job. Nothing is cached for these.
			env.Logger().Warn("translation collaborator failed, keeping source text", logging.Error(err))
			for _, idx := range pending {
				segs[idx].Translation = segs[idx].Text
			}
		} else {
			for n, idx := range pending {
				target := strings.TrimSpace(translated[n])
				if target == "" {
					// Keep the source text rather than dropping the line.
					target = segs[idx].Text
				}
				segs[idx].Translation = target
				if s.cache != nil && cfg.Cache {
					if err := s.cache.PutTranslation(ctx, textutil.Hash(segs[idx].Text), target); err != nil {
						env.Logger().Warn("translation cache write failed", logging.Error(err))
					}
				}
			}
		}
	}
	env.Logger().Info("translation complete",
		logging.Int("segments", len(segs)),
		logging.Int("cache_hits", hits))

	if err := segments.WriteArtifact(env.Workdir, segments.TranslationFile, segs); err != nil {
		return services.Wrap(services.ErrTransient, s.Name(), "write", "persist translations", err)
	}
	return nil
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Translations []string `json:"translations"`
}

// translateBatch runs the collaborator over the pending segment texts via a
// JSON file handoff and returns the translations in pending order.
func (s *Step) translateBatch(ctx context.Context, env *pipeline.Env, segs []segments.Segment, pending []int) ([]string, error) {
	cfg := env.Config.Translation

	request := batchRequest{Texts: make([]string, len(pending))}
	for n, idx := range pending {
		request.Texts[n] = segs[idx].Text
	}

	inPath := filepath.Join(env.Workdir, "translate_request.json")
	outPath := filepath.Join(env.Workdir, "translate_response.json")
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	data, err := json.Marshal(request)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, s.Name(), "encode", "build translation request", err)
	}
	if err := os.WriteFile(inPath, data, 0o644); err != nil {
		return nil, services.Wrap(services.ErrTransient, s.Name(), "write", "stage translation request", err)
	}

	args := []string{
		"--input", inPath,
		"--output", outPath,
		"--model", cfg.Model,
		"--source", env.Config.NormalizedSourceLanguage(),
		"--target", env.Config.NormalizedTargetLanguage(),
	}
	if err := s.run(ctx, cfg.Binary, args...); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, s.Name(), "translate", "translation collaborator failed", err)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, s.Name(), "read", "translation output missing", err)
	}
	var response batchResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, services.Wrap(services.ErrValidation, s.Name(), "parse", "translation output unreadable", err)
	}
	if len(response.Translations) != len(pending) {
		return nil, services.Wrap(services.ErrValidation, s.Name(), "parse",
			fmt.Sprintf("translation count mismatch: got %d, want %d", len(response.Translations), len(pending)), nil)
	}
	return response.Translations, nil
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
