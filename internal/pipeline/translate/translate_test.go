package translate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"redub/internal/cache"
	"redub/internal/config"
	"redub/internal/pipeline"
	"redub/internal/segments"
)

// fakeCollaborator answers the batch request file with canned translations.
func fakeCollaborator(t *testing.T, translate func(string) string) func(context.Context, string, ...string) error {
	t.Helper()
	return func(_ context.Context, _ string, args ...string) error {
		var inPath, outPath string
		for i := 0; i < len(args)-1; i++ {
			switch args[i] {
			case "--input":
				inPath = args[i+1]
			case "--output":
				outPath = args[i+1]
			}
		}
		data, err := os.ReadFile(inPath)
		if err != nil {
			return err
		}
		var request batchRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return err
		}
		response := batchResponse{Translations: make([]string, len(request.Texts))}
		for i, text := range request.Texts {
			response.Translations[i] = translate(text)
		}
		out, err := json.Marshal(response)
		if err != nil {
			return err
		}
		return os.WriteFile(outPath, out, 0o644)
	}
}

func newEnv(t *testing.T) *pipeline.Env {
	t.Helper()
	cfg := config.Default()
	return &pipeline.Env{Workdir: t.TempDir(), Config: &cfg}
}

func TestExecuteTranslatesSegments(t *testing.T) {
	env := newEnv(t)
	segs := []segments.Segment{
		{Start: 0, End: 1, Speaker: "A", Text: "hello"},
		{Start: 1, End: 2, Speaker: "B", Text: "goodbye"},
	}
	if err := segments.WriteArtifact(env.Workdir, segments.MergedFile, segs); err != nil {
		t.Fatal(err)
	}

	step := New(nil)
	step.WithCommandRunner(fakeCollaborator(t, func(text string) string { return "[es] " + text }))
	if err := step.Execute(context.Background(), env); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := segments.ReadSegments(env.Workdir, segments.TranslationFile)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Translation != "[es] hello" || got[1].Translation != "[es] goodbye" {
		t.Fatalf("translations = %#v", got)
	}
}

func TestExecuteFallsBackToSourceText(t *testing.T) {
	env := newEnv(t)
	segs := []segments.Segment{{Start: 0, End: 1, Speaker: "A", Text: "hello"}}
	if err := segments.WriteArtifact(env.Workdir, segments.MergedFile, segs); err != nil {
		t.Fatal(err)
	}

	step := New(nil)
	step.WithCommandRunner(fakeCollaborator(t, func(string) string { return "  " }))
	if err := step.Execute(context.Background(), env); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := segments.ReadSegments(env.Workdir, segments.TranslationFile)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Translation != "hello" {
		t.Fatalf("translation = %q", got[0].Translation)
	}
}

func TestExecuteUsesCache(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	env := newEnv(t)
	segs := []segments.Segment{{Start: 0, End: 1, Speaker: "A", Text: "hello"}}
	if err := segments.WriteArtifact(env.Workdir, segments.MergedFile, segs); err != nil {
		t.Fatal(err)
	}

	calls := 0
	step := New(store)
	step.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		calls++
		return fakeCollaborator(t, func(text string) string { return "[es] " + text })(ctx, name, args...)
	})

	if err := step.Execute(context.Background(), env); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}

	// Second run over the same text must be served from cache.
	env2 := newEnv(t)
	if err := segments.WriteArtifact(env2.Workdir, segments.MergedFile, segs); err != nil {
		t.Fatal(err)
	}
	step2 := New(store)
	step2.WithCommandRunner(func(context.Context, string, ...string) error {
		t.Fatal("collaborator invoked despite cache hit")
		return nil
	})
	if err := step2.Execute(context.Background(), env2); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	got, err := segments.ReadSegments(env2.Workdir, segments.TranslationFile)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Translation != "[es] hello" {
		t.Fatalf("translation = %q", got[0].Translation)
	}
}

func TestExecuteKeepsSourceTextWhenCollaboratorFails(t *testing.T) {
	env := newEnv(t)
	segs := []segments.Segment{
		{Start: 0, End: 1, Speaker: "A", Text: "hello"},
		{Start: 1, End: 2, Speaker: "B", Text: "goodbye"},
	}
	if err := segments.WriteArtifact(env.Workdir, segments.MergedFile, segs); err != nil {
		t.Fatal(err)
	}

	step := New(nil)
	step.WithCommandRunner(func(context.Context, string, ...string) error {
		return errors.New("model exploded")
	})
	if err := step.Execute(context.Background(), env); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := segments.ReadSegments(env.Workdir, segments.TranslationFile)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Translation != "hello" || got[1].Translation != "goodbye" {
		t.Fatalf("translations = %#v", got)
	}
}

func TestExecuteCountMismatchKeepsSourceText(t *testing.T) {
	env := newEnv(t)
	segs := []segments.Segment{{Start: 0, End: 1, Text: "hello"}}
	if err := segments.WriteArtifact(env.Workdir, segments.MergedFile, segs); err != nil {
		t.Fatal(err)
	}

	step := New(nil)
	step.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		var outPath string
		for i := 0; i < len(args)-1; i++ {
			if args[i] == "--output" {
				outPath = args[i+1]
			}
		}
		return os.WriteFile(outPath, []byte(`{"translations":[]}`), 0o644)
	})
	if err := step.Execute(context.Background(), env); err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, err := segments.ReadSegments(env.Workdir, segments.TranslationFile)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Translation != "hello" {
		t.Fatalf("translation = %q", got[0].Translation)
	}
}
