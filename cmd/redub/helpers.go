package main

import (
	"fmt"
	"log/slog"

	"redub/internal/config"
	"redub/internal/logging"
)

// loadConfig resolves and loads configuration for a command invocation.
func loadConfig(configFlag string) (*config.Config, error) {
	cfg, path, exists, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if !exists {
		fmt.Printf("no configuration at %s, using built-in defaults\n", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}
