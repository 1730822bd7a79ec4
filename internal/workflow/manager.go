// Package workflow sequences the dubbing pipeline for each job: it drives
// the job state machine, runs steps in their fixed order, and reports
// lifecycle events through the progress hub.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"redub/internal/cache"
	"redub/internal/config"
	"redub/internal/fetch"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/pipeline"
	"redub/internal/pipeline/asr"
	"redub/internal/pipeline/diarize"
	"redub/internal/pipeline/merge"
	"redub/internal/pipeline/render"
	"redub/internal/pipeline/synth"
	"redub/internal/pipeline/translate"
	"redub/internal/progress"
	"redub/internal/services"
)

// StepOrder is the fixed sequence of pipeline step names. The download step
// is prepended for URL-submitted jobs.
var StepOrder = []string{"asr", "diarize", "merge", "translate", "synth", "render"}

// Manager runs jobs through the pipeline with bounded concurrency.
type Manager struct {
	cfg   *config.Config
	store *jobs.Store
	hub   *progress.Hub
	cache *cache.Store
	log   *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewManager wires the orchestrator. The cache may be nil.
func NewManager(cfg *config.Config, store *jobs.Store, hub *progress.Hub, cacheStore *cache.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	workers := cfg.Workflow.MaxConcurrentJobs
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		cfg:   cfg,
		store: store,
		hub:   hub,
		cache: cacheStore,
		log:   log,
		slots: make(chan struct{}, workers),
	}
}

// Launch runs a job asynchronously, waiting for a worker slot first.
func (m *Manager) Launch(ctx context.Context, jobID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case m.slots <- struct{}{}:
			defer func() { <-m.slots }()
		case <-ctx.Done():
			return
		}
		if err := m.RunJob(ctx, jobID, nil, false); err != nil {
			m.log.Error("job failed",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err))
		}
	}()
}

// Wait blocks until all launched jobs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// RunJob executes the pipeline for one job. steps narrows execution to the
// named subset (nil means all), force reruns steps whose outputs exist.
func (m *Manager) RunJob(ctx context.Context, jobID string, steps []string, force bool) error {
	job, err := m.store.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusCompleted && !force {
		return services.Wrap(services.ErrValidation, "", "run", fmt.Sprintf("job %s already %s", jobID, job.Status), nil)
	}

	ctx = services.WithJobID(ctx, jobID)
	log := logging.WithContext(ctx, m.log)

	// Failed jobs resume here: step idempotency skips whatever already
	// produced its outputs.
	if job.Status == jobs.StatusPending || job.Status == jobs.StatusFailed {
		if job, err = m.store.Update(jobID, func(j *jobs.Job) {
			j.Status = jobs.StatusProcessing
			j.Error = ""
		}); err != nil {
			return err
		}
	}

	env := &pipeline.Env{
		Workdir:   job.Workdir,
		InputPath: job.InputPath,
		Config:    m.cfg,
		Log:       log,
		Emit: func(eventType string, fields map[string]any) {
			m.hub.Broadcast(jobID, eventFromFields(eventType, fields))
		},
	}

	for _, step := range m.buildSteps(job, steps) {
		if err := ctx.Err(); err != nil {
			env.Notify(pipeline.EventError, map[string]any{"step": step.Name(), "message": err.Error()})
			return m.failJob(jobID, err)
		}
		if _, err := m.store.Update(jobID, func(j *jobs.Job) {
			j.CurrentStep = step.Name()
		}); err != nil {
			return err
		}

		stepCtx := services.WithStep(ctx, step.Name())
		err := m.runStep(stepCtx, step, env, force)
		if err != nil {
			return m.failJob(jobID, err)
		}
	}

	if _, err := m.store.Update(jobID, func(j *jobs.Job) {
		// A forced rerun of a completed job refreshes artifacts only; the
		// recorded status stays put.
		if j.Status == jobs.StatusCompleted {
			j.CurrentStep = ""
			return
		}
		j.Status = jobs.StatusCompleted
		j.CurrentStep = ""
		j.Error = ""
	}); err != nil {
		return err
	}
	m.hub.Broadcast(jobID, progress.Event{Type: pipeline.EventPipelineComplete})
	log.Info("job complete")
	return nil
}

// runStep applies the download timeout when relevant and defers the rest of
// the guard rails to the step executor.
func (m *Manager) runStep(ctx context.Context, step pipeline.Step, env *pipeline.Env, force bool) error {
	if step.Name() == "download" && m.cfg.Workflow.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Workflow.DownloadTimeout)*time.Second)
		defer cancel()
	}
	return pipeline.Run(ctx, step, env, force)
}

// failJob records a step failure on the job. The error event itself is
// emitted by the step executor. Jobs already in a terminal state keep their
// original error.
func (m *Manager) failJob(jobID string, cause error) error {
	message := services.Details(cause).Message
	if _, err := m.store.Update(jobID, func(j *jobs.Job) {
		if j.Status.Terminal() {
			return
		}
		j.Status = jobs.StatusFailed
		j.Error = message
	}); err != nil {
		m.log.Error("record job failure",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err))
	}
	return cause
}

// buildSteps assembles the ordered step list for a job, optionally narrowed
// to a named subset. Order is always the canonical one regardless of how the
// subset was spelled.
func (m *Manager) buildSteps(job jobs.Job, only []string) []pipeline.Step {
	wanted := func(name string) bool {
		if len(only) == 0 {
			return true
		}
		for _, n := range only {
			if n == name {
				return true
			}
		}
		return false
	}

	var out []pipeline.Step
	if job.SourceURL != "" && wanted("download") {
		out = append(out, fetch.NewStep(nil, job.SourceURL))
	}
	for _, name := range StepOrder {
		if !wanted(name) {
			continue
		}
		switch name {
		case "asr":
			out = append(out, asr.New())
		case "diarize":
			out = append(out, diarize.New())
		case "merge":
			out = append(out, merge.New())
		case "translate":
			out = append(out, translate.New(m.cache))
		case "synth":
			out = append(out, synth.New(m.cache))
		case "render":
			out = append(out, render.New())
		}
	}
	return out
}

// KnownStep reports whether name is a valid pipeline step name.
func KnownStep(name string) bool {
	if name == "download" {
		return true
	}
	for _, n := range StepOrder {
		if n == name {
			return true
		}
	}
	return false
}

func eventFromFields(eventType string, fields map[string]any) progress.Event {
	ev := progress.Event{Type: eventType}
	if v, ok := fields["step"].(string); ok {
		ev.Step = v
	}
	if v, ok := fields["current"].(int); ok {
		ev.Current = v
	}
	if v, ok := fields["total"].(int); ok {
		ev.Total = v
	}
	if v, ok := fields["message"].(string); ok {
		ev.Message = v
	}
	return ev
}
