package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// LoadWAV reads a WAV file into a mono float buffer. Multi-channel input is
// downmixed by averaging.
func LoadWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	raw, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if raw.Format == nil || raw.Format.NumChannels < 1 {
		return Buffer{}, fmt.Errorf("decode wav %s: missing format", path)
	}

	channels := raw.Format.NumChannels
	scale := float32(math.Pow(2, float64(dec.BitDepth)-1))
	if scale == 0 {
		scale = 1 << 15
	}
	frames := len(raw.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(raw.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return Buffer{Samples: samples, Rate: raw.Format.SampleRate}, nil
}

// SaveWAV writes the buffer as 16-bit mono PCM.
func SaveWAV(path string, buf Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, buf.Rate, 16, 1, 1)
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	pcm := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.Rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(pcm); err != nil {
		return fmt.Errorf("encode wav %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav %s: %w", path, err)
	}
	return f.Close()
}
