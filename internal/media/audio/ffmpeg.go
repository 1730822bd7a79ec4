package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExtractWAV transcodes any container ffmpeg understands into a mono PCM WAV
// at the requested sample rate.
func ExtractWAV(ctx context.Context, ffmpegBinary, source, dest string, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("extract audio: invalid sample rate %d", rate)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// ProbeDuration returns the source duration in seconds via ffprobe-style
// output from ffmpeg's null muxer companion. It shells out to ffprobe, which
// ships alongside ffmpeg.
func ProbeDuration(ctx context.Context, ffprobeBinary, source string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source,
	}
	cmd := exec.CommandContext(ctx, ffprobeBinary, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: parse %q: %w", strings.TrimSpace(string(output)), err)
	}
	return seconds, nil
}
