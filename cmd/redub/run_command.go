package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"redub/internal/cache"
	"redub/internal/fetch"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/pipeline"
	"redub/internal/progress"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/workflow"
)

func newRunCommand(configFlag *string) *cobra.Command {
	var (
		urlFlag   string
		stepsFlag []string
		forceFlag bool
	)

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Dub one recording end to end without the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (urlFlag == "") {
				return services.Wrap(services.ErrValidation, "", "run", "pass exactly one of a file argument or --url", nil)
			}
			for _, name := range stepsFlag {
				if !workflow.KnownStep(name) {
					return services.Wrap(services.ErrValidation, "", "run", fmt.Sprintf("unknown step %q", name), nil)
				}
			}

			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			// Missing collaborators are a configuration problem; surface
			// them before a job is created rather than mid-pipeline.
			if err := cfg.ValidateEnvironment(); err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := jobs.Open(cfg.JobsFile())
			if err != nil {
				return err
			}
			cacheStore, err := cache.Open(cfg.CachePath())
			if err != nil {
				log.Warn("cache unavailable, continuing without reuse", logging.Error(err))
				cacheStore = nil
			}
			defer func() {
				if cacheStore != nil {
					_ = cacheStore.Close()
				}
			}()

			var filename, inputPath string
			if len(args) == 1 {
				inputPath, err = filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if _, err := os.Stat(inputPath); err != nil {
					return services.Wrap(services.ErrValidation, "", "run", "input file not readable", err)
				}
				filename = filepath.Base(inputPath)
			} else {
				if err := fetch.ValidateURL(urlFlag); err != nil {
					return services.Wrap(services.ErrValidation, "", "run", "invalid source url", err)
				}
				filename = filepath.Base(urlFlag)
			}

			job, err := store.Create(filename, inputPath, "", urlFlag)
			if err != nil {
				return err
			}
			workdir := cfg.WorkdirFor(job.ID)
			if err := os.MkdirAll(workdir, 0o755); err != nil {
				return err
			}
			if job, err = store.Update(job.ID, func(j *jobs.Job) {
				j.Workdir = workdir
				if j.SourceURL != "" {
					j.InputPath = filepath.Join(workdir, fetch.DownloadedFile)
				}
			}); err != nil {
				return err
			}

			hub := progress.NewHub(log)
			hub.Start(ctx)
			defer hub.Close()

			sub := hub.Subscribe(job.ID)
			defer sub.Close()
			go printProgress(sub)

			manager := workflow.NewManager(cfg, store, hub, cacheStore, log)
			if err := manager.RunJob(ctx, job.ID, stepsFlag, forceFlag); err != nil {
				return err
			}

			fmt.Printf("job %s complete\n", job.ID)
			fmt.Printf("  audio:    %s\n", filepath.Join(workdir, segments.DubbedFile))
			fmt.Printf("  timeline: %s\n", filepath.Join(workdir, segments.TimelineFile))
			return nil
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "", "Download the source from a URL instead of a local file")
	cmd.Flags().StringSliceVar(&stepsFlag, "steps", nil, "Run only the named steps (comma separated)")
	cmd.Flags().BoolVar(&forceFlag, "force", false, "Rerun steps even when their outputs exist")
	return cmd
}

func printProgress(sub *progress.Subscriber) {
	for event := range sub.Events() {
		switch event.Type {
		case pipeline.EventStepStart:
			fmt.Printf("[%s] starting\n", event.Step)
		case pipeline.EventStepProgress:
			if event.Total > 0 {
				fmt.Printf("[%s] %d/%d\n", event.Step, event.Current, event.Total)
			} else if event.Message != "" {
				fmt.Printf("[%s] %s\n", event.Step, event.Message)
			}
		case pipeline.EventStepComplete:
			fmt.Printf("[%s] done\n", event.Step)
		case pipeline.EventStepSkipped:
			fmt.Printf("[%s] already done, skipping\n", event.Step)
		case pipeline.EventError:
			fmt.Printf("[%s] failed: %s\n", event.Step, event.Message)
		case pipeline.EventPipelineComplete:
			return
		}
	}
}
