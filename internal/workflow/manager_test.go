package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/pipeline"
	"redub/internal/progress"
	"redub/internal/segments"
)

func newManager(t *testing.T) (*Manager, *jobs.Store, *progress.Hub) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()

	store, err := jobs.Open(filepath.Join(cfg.Paths.DataDir, "jobs.json"))
	if err != nil {
		t.Fatal(err)
	}
	hub := progress.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Start(ctx)
	t.Cleanup(hub.Close)

	return NewManager(&cfg, store, hub, nil, nil), store, hub
}

func seedMergeInputs(t *testing.T, workdir string) {
	t.Helper()
	segs := []segments.Segment{{Start: 0, End: 2, Text: "hello there"}}
	turns := []segments.Turn{{Start: 0, End: 2, Speaker: "SPEAKER_00"}}
	if err := segments.WriteArtifact(workdir, segments.TranscriptFile, segs); err != nil {
		t.Fatal(err)
	}
	if err := segments.WriteArtifact(workdir, segments.DiarizationFile, turns); err != nil {
		t.Fatal(err)
	}
}

func collect(sub *progress.Subscriber, until string, deadline time.Duration) []progress.Event {
	var events []progress.Event
	timeout := time.After(deadline)
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
			if ev.Type == until {
				return events
			}
		case <-timeout:
			return events
		}
	}
}

func TestRunJobSubsetCompletes(t *testing.T) {
	manager, store, hub := newManager(t)
	workdir := t.TempDir()
	seedMergeInputs(t, workdir)

	job, err := store.Create("interview.mp4", "", workdir, "")
	if err != nil {
		t.Fatal(err)
	}
	sub := hub.Subscribe(job.ID)
	defer sub.Close()

	if err := manager.RunJob(context.Background(), job.ID, []string{"merge"}, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusCompleted || got.CurrentStep != "" {
		t.Fatalf("job = %+v", got)
	}
	if _, err := segments.ReadSegments(workdir, segments.MergedFile); err != nil {
		t.Fatalf("merged artifact: %v", err)
	}

	events := collect(sub, pipeline.EventPipelineComplete, 2*time.Second)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{pipeline.EventStepStart, pipeline.EventStepComplete, pipeline.EventPipelineComplete}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v", types)
		}
	}
}

func TestRunJobFailureMarksJobFailed(t *testing.T) {
	manager, store, hub := newManager(t)
	workdir := t.TempDir() // no artifacts staged

	job, err := store.Create("interview.mp4", "", workdir, "")
	if err != nil {
		t.Fatal(err)
	}
	sub := hub.Subscribe(job.ID)
	defer sub.Close()

	if err := manager.RunJob(context.Background(), job.ID, []string{"merge"}, false); err == nil {
		t.Fatal("expected error")
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusFailed || got.Error == "" {
		t.Fatalf("job = %+v", got)
	}

	events := collect(sub, pipeline.EventError, 2*time.Second)
	if len(events) == 0 || events[len(events)-1].Type != pipeline.EventError {
		t.Fatalf("events = %+v", events)
	}
}

func TestRunJobRejectsCompletedWithoutForce(t *testing.T) {
	manager, store, _ := newManager(t)
	job, err := store.Create("interview.mp4", "", t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(job.ID, func(j *jobs.Job) { j.Status = jobs.StatusCompleted }); err != nil {
		t.Fatal(err)
	}
	if err := manager.RunJob(context.Background(), job.ID, []string{"merge"}, false); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunJobResumesFailedJob(t *testing.T) {
	manager, store, hub := newManager(t)
	workdir := t.TempDir() // no artifacts staged yet

	job, err := store.Create("interview.mp4", "", workdir, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.RunJob(context.Background(), job.ID, []string{"merge"}, false); err == nil {
		t.Fatal("expected first run to fail")
	}

	// Stage the inputs and rerun without force: the failed job resumes,
	// already-produced outputs are skipped, and the job completes.
	seedMergeInputs(t, workdir)
	if err := segments.WriteArtifact(workdir, segments.MergedFile, []segments.Segment{}); err != nil {
		t.Fatal(err)
	}
	sub := hub.Subscribe(job.ID)
	defer sub.Close()

	if err := manager.RunJob(context.Background(), job.ID, []string{"merge"}, false); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusCompleted || got.Error != "" {
		t.Fatalf("job = %+v", got)
	}
	events := collect(sub, pipeline.EventPipelineComplete, 2*time.Second)
	if len(events) == 0 || events[0].Type != pipeline.EventStepSkipped {
		t.Fatalf("events = %+v", events)
	}
}

func TestRunJobSkipsCompletedStep(t *testing.T) {
	manager, store, hub := newManager(t)
	workdir := t.TempDir()
	seedMergeInputs(t, workdir)
	if err := segments.WriteArtifact(workdir, segments.MergedFile, []segments.Segment{}); err != nil {
		t.Fatal(err)
	}

	job, err := store.Create("interview.mp4", "", workdir, "")
	if err != nil {
		t.Fatal(err)
	}
	sub := hub.Subscribe(job.ID)
	defer sub.Close()

	if err := manager.RunJob(context.Background(), job.ID, []string{"merge"}, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	events := collect(sub, pipeline.EventPipelineComplete, 2*time.Second)
	if len(events) == 0 || events[0].Type != pipeline.EventStepSkipped {
		t.Fatalf("events = %+v", events)
	}
}

func TestLaunchRunsAsynchronously(t *testing.T) {
	manager, store, _ := newManager(t)
	workdir := t.TempDir()
	seedMergeInputs(t, workdir)

	job, err := store.Create("interview.mp4", "", workdir, "")
	if err != nil {
		t.Fatal(err)
	}

	// Whole-pipeline launch fails at asr (no collaborator available), which
	// is fine; the point is that Launch returns immediately and Wait joins.
	manager.Launch(context.Background(), job.ID)
	manager.Wait()

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Status.Terminal() {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestKnownStep(t *testing.T) {
	for _, name := range append([]string{"download"}, StepOrder...) {
		if !KnownStep(name) {
			t.Fatalf("%s not known", name)
		}
	}
	if KnownStep("bogus") {
		t.Fatal("bogus accepted")
	}
}

func TestBuildStepsPrependsDownloadForURLJobs(t *testing.T) {
	manager, _, _ := newManager(t)
	job := jobs.Job{SourceURL: "https://example.com/a"}
	steps := manager.buildSteps(job, nil)
	if len(steps) != len(StepOrder)+1 || steps[0].Name() != "download" {
		names := make([]string, len(steps))
		for i, s := range steps {
			names[i] = s.Name()
		}
		t.Fatalf("steps = %v", names)
	}
}
