// Package pipeline defines the step contract shared by all dubbing stages
// and the executor that enforces idempotency and output cleanup.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"redub/internal/config"
	"redub/internal/logging"
)

// Step is one stage of the dubbing pipeline. Outputs lists the workdir
// artifacts the step produces; the executor uses them for skip detection and
// for cleanup after a failure.
type Step interface {
	Name() string
	Outputs() []string
	Execute(ctx context.Context, env *Env) error
}

// Env carries the per-job state a step executes against.
type Env struct {
	Workdir   string
	InputPath string
	Config    *config.Config
	Log       *slog.Logger
	Emit      func(eventType string, fields map[string]any)
}

// Notify publishes a progress event when an emitter is attached. Emission
// failures never affect step execution; a panicking emitter is swallowed.
func (e *Env) Notify(eventType string, fields map[string]any) {
	if e == nil || e.Emit == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	e.Emit(eventType, fields)
}

// Logger returns the job logger, falling back to a no-op logger so steps
// never need a nil check.
func (e *Env) Logger() *slog.Logger {
	if e != nil && e.Log != nil {
		return e.Log
	}
	return logging.NewNop()
}

// Progress event types published while a job runs.
const (
	EventStepStart        = "step_start"
	EventStepProgress     = "step_progress"
	EventStepComplete     = "step_complete"
	EventStepSkipped      = "step_skipped"
	EventPipelineComplete = "pipeline_complete"
	EventError            = "error"
)

// Run executes a step with the standard guard rails: when every declared
// output already exists and force is false the step is skipped, and when
// execution fails all declared outputs are removed so a rerun starts clean.
func Run(ctx context.Context, step Step, env *Env, force bool) error {
	log := env.Logger().With(logging.String("step", step.Name()))

	if !force && outputsExist(env.Workdir, step.Outputs()) {
		log.Info("step outputs present, skipping")
		env.Notify(EventStepSkipped, map[string]any{"step": step.Name()})
		return nil
	}

	env.Notify(EventStepStart, map[string]any{"step": step.Name()})
	log.Info("step starting")

	if err := step.Execute(ctx, env); err != nil {
		cleanOutputs(env.Workdir, step.Outputs())
		log.Error("step failed", logging.Error(err))
		env.Notify(EventError, map[string]any{"step": step.Name(), "message": err.Error()})
		return err
	}

	env.Notify(EventStepComplete, map[string]any{"step": step.Name()})
	log.Info("step complete")
	return nil
}

func outputsExist(workdir string, outputs []string) bool {
	if len(outputs) == 0 {
		return false
	}
	for _, name := range outputs {
		if _, err := os.Stat(filepath.Join(workdir, name)); err != nil {
			return false
		}
	}
	return true
}

// cleanOutputs removes declared artifacts after a failed run. Removal is
// best effort; a stale partial file is rewritten on the next attempt anyway.
func cleanOutputs(workdir string, outputs []string) {
	for _, name := range outputs {
		_ = os.RemoveAll(filepath.Join(workdir, name))
	}
}
