package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"redub/internal/services"
	"redub/internal/testsupport"
)

func TestRunRejectsMissingCollaboratorBeforeCreatingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	t.Setenv(cfg.Diarization.HFTokenEnv, "hf_dummy")
	cfg.TTS.Binary = "definitely-not-installed-tts"

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(t.TempDir(), "redub.toml")
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(t.TempDir(), "interview.mp4")
	if err := os.WriteFile(input, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCommand()
	root.SetArgs([]string{"run", input, "--config", cfgPath})
	err = root.Execute()
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	if _, statErr := os.Stat(cfg.JobsFile()); !os.IsNotExist(statErr) {
		t.Fatal("job store written despite environment failure")
	}
}
