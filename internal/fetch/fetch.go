// Package fetch downloads remote interview recordings with yt-dlp and
// exposes the optional download step that runs ahead of transcription for
// URL-submitted jobs.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"redub/internal/logging"
	"redub/internal/media/audio"
	"redub/internal/pipeline"
	"redub/internal/services"
)

// DownloadedFile is the deterministic name the downloader writes into the
// job workdir.
const DownloadedFile = "input.wav"

// ValidateURL accepts only absolute http(s) URLs.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url missing host")
	}
	return nil
}

// Downloader wraps the yt-dlp binary.
type Downloader struct {
	binary        string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

func NewDownloader(binary string) *Downloader {
	return &Downloader{binary: binary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (d *Downloader) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	d.commandRunner = runner
}

// Download fetches the URL's audio as WAV into destDir and returns the
// resulting file path.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, DownloadedFile)
	template := strings.TrimSuffix(dest, ".wav") + ".%(ext)s"
	args := []string{
		"-x",
		"--audio-format", "wav",
		"--no-playlist",
		"-o", template,
		rawURL,
	}
	if err := d.run(ctx, d.binary, args...); err != nil {
		return "", fmt.Errorf("yt-dlp: %w", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("yt-dlp produced no output: %w", err)
	}
	return dest, nil
}

func (d *Downloader) run(ctx context.Context, name string, args ...string) error {
	if d.commandRunner != nil {
		return d.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Step downloads the job's source URL into the workdir and enforces the
// configured input length limit.
type Step struct {
	downloader *Downloader
	url        string

	probe func(ctx context.Context, path string) (float64, error)
}

// NewStep creates a download step for one job's source URL. The downloader
// may be nil, in which case the configured binary is used.
func NewStep(downloader *Downloader, sourceURL string) *Step {
	return &Step{downloader: downloader, url: sourceURL}
}

// WithProbe sets a custom duration probe (for testing).
func (s *Step) WithProbe(probe func(ctx context.Context, path string) (float64, error)) {
	s.probe = probe
}

func (s *Step) Name() string      { return "download" }
func (s *Step) Outputs() []string { return []string{DownloadedFile} }

func (s *Step) Execute(ctx context.Context, env *pipeline.Env) error {
	downloader := s.downloader
	if downloader == nil {
		downloader = NewDownloader(env.Config.Download.Binary)
	}

	path, err := downloader.Download(ctx, s.url, env.Workdir)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, s.Name(), "download", "source download failed", err)
	}
	env.Logger().Info("source downloaded", logging.String("path", path))

	if limit := env.Config.Workflow.MaxInputMinutes; limit > 0 {
		seconds, err := s.probeDuration(ctx, path)
		if err != nil {
			return services.Wrap(services.ErrExternalTool, s.Name(), "probe", "measure input duration", err)
		}
		if seconds > float64(limit)*60 {
			return services.Wrap(services.ErrValidation, s.Name(), "probe",
				fmt.Sprintf("input runs %.1f minutes, limit is %d", seconds/60, limit), nil)
		}
	}
	return nil
}

func (s *Step) probeDuration(ctx context.Context, path string) (float64, error) {
	if s.probe != nil {
		return s.probe(ctx, path)
	}
	return audio.ProbeDuration(ctx, "ffprobe", path)
}
