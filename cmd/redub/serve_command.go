package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"redub/internal/cache"
	"redub/internal/daemon"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/progress"
	"redub/internal/workflow"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dubbing daemon and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if err := cfg.ValidateEnvironment(); err != nil {
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

			hub := progress.NewHub(log)
			hub.Start(ctx)
			defer hub.Close()

			manager := workflow.NewManager(cfg, store, hub, cacheStore, log)
			server := daemon.New(ctx, cfg, store, manager, hub, log)

			err = server.Run(ctx)
			manager.Wait()
			return err
		},
	}
}
