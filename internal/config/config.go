package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"redub/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// ASR contains configuration for the transcription collaborator.
type ASR struct {
	Binary    string `toml:"binary"`
	Model     string `toml:"model"`
	Language  string `toml:"language"`
	BatchSize int    `toml:"batch_size"`
}

// Diarization contains configuration for the speaker diarization collaborator.
type Diarization struct {
	Binary      string `toml:"binary"`
	Model       string `toml:"model"`
	MinSpeakers int    `toml:"min_speakers"`
	MaxSpeakers int    `toml:"max_speakers"`
	HFTokenEnv  string `toml:"hf_token_env"`
}

// Merge contains configuration for transcript/diarization fusion.
type Merge struct {
	MinSegmentDuration float64 `toml:"min_segment_duration"`
	Smoothing          bool    `toml:"smoothing"`
	SmoothingWindow    int     `toml:"smoothing_window"`
}

// Translation contains configuration for the text translation collaborator.
type Translation struct {
	Binary         string `toml:"binary"`
	Model          string `toml:"model"`
	SourceLanguage string `toml:"source_language"`
	TargetLanguage string `toml:"target_language"`
	Cache          bool   `toml:"cache"`
}

// TTS contains configuration for the voice-cloned synthesis collaborator.
type TTS struct {
	Binary          string  `toml:"binary"`
	Model           string  `toml:"model"`
	SampleRate      int     `toml:"sample_rate"`
	MaxCharsPerCall int     `toml:"max_chars_per_call"`
	RefMinDuration  float64 `toml:"ref_min_duration"`
	RefMaxDuration  float64 `toml:"ref_max_duration"`
	Cache           bool    `toml:"cache"`
}

// Render contains configuration for timeline synthesis.
type Render struct {
	SampleRate  int     `toml:"sample_rate"`
	CrossfadeMS int     `toml:"crossfade_ms"`
	StretchMin  float64 `toml:"stretch_min"`
	StretchMax  float64 `toml:"stretch_max"`
	TargetLUFS  float64 `toml:"target_lufs"`
}

// Workflow contains configuration for job execution.
type Workflow struct {
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	MaxInputMinutes   int `toml:"max_input_minutes"`
	DownloadTimeout   int `toml:"download_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Download contains configuration for the remote media fetch pre-step.
type Download struct {
	Binary string `toml:"binary"`
}

// Config encapsulates all configuration values for the dubbing pipeline.
type Config struct {
	Paths       Paths       `toml:"paths"`
	ASR         ASR         `toml:"asr"`
	Diarization Diarization `toml:"diarization"`
	Merge       Merge       `toml:"merge"`
	Translation Translation `toml:"translation"`
	TTS         TTS         `toml:"tts"`
	Render      Render      `toml:"render"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
	Download    Download    `toml:"download"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/redub/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("redub.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.ASR.Binary = strings.TrimSpace(c.ASR.Binary)
	c.Diarization.Binary = strings.TrimSpace(c.Diarization.Binary)
	c.Translation.Binary = strings.TrimSpace(c.Translation.Binary)
	c.TTS.Binary = strings.TrimSpace(c.TTS.Binary)
	c.Download.Binary = strings.TrimSpace(c.Download.Binary)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates the directories required for operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.InputDir(), c.WorkRoot(), c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// InputDir returns the directory holding uploaded and downloaded source audio.
func (c *Config) InputDir() string {
	return filepath.Join(c.Paths.DataDir, "input")
}

// WorkRoot returns the parent directory of all per-job working directories.
func (c *Config) WorkRoot() string {
	return filepath.Join(c.Paths.DataDir, "work")
}

// WorkdirFor returns the working directory for a job id.
func (c *Config) WorkdirFor(jobID string) string {
	return filepath.Join(c.WorkRoot(), jobID)
}

// JobsFile returns the path of the persisted job collection.
func (c *Config) JobsFile() string {
	return filepath.Join(c.Paths.DataDir, "jobs.json")
}

// CachePath returns the path of the content-hash cache database.
func (c *Config) CachePath() string {
	return filepath.Join(c.Paths.DataDir, "cache.db")
}

// FFmpegBinary returns the ffmpeg executable name used for input decoding.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// ValidateEnvironment checks that required external tools are reachable.
// Failures are fatal before any job starts.
func (c *Config) ValidateEnvironment() error {
	required := []string{
		c.FFmpegBinary(),
		c.ASR.Binary,
		c.Diarization.Binary,
		c.Translation.Binary,
		c.TTS.Binary,
	}
	for _, binary := range required {
		if binary == "" {
			continue
		}
		if _, err := exec.LookPath(binary); err != nil {
			return services.Wrap(services.ErrConfiguration, "", "environment", fmt.Sprintf("required tool %q not found in PATH", binary), nil)
		}
	}
	if env := strings.TrimSpace(c.Diarization.HFTokenEnv); env != "" {
		if strings.TrimSpace(os.Getenv(env)) == "" {
			return services.Wrap(services.ErrConfiguration, "", "environment", fmt.Sprintf("environment variable %s is not set", env), nil)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
