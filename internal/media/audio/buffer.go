package audio

import (
	"math"
	"time"
)

// Buffer holds mono audio samples in the range [-1, 1] at a fixed sample rate.
type Buffer struct {
	Samples []float32
	Rate    int
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.Rate) * float64(time.Second))
}

// Seconds returns the playback length in seconds.
func (b Buffer) Seconds() float64 {
	if b.Rate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.Rate)
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool {
	return len(b.Samples) == 0
}

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	out := Buffer{Rate: b.Rate}
	if len(b.Samples) > 0 {
		out.Samples = make([]float32, len(b.Samples))
		copy(out.Samples, b.Samples)
	}
	return out
}

// Silence returns a zeroed buffer of the given duration.
func Silence(seconds float64, rate int) Buffer {
	if seconds < 0 {
		seconds = 0
	}
	return Buffer{
		Samples: make([]float32, int(seconds*float64(rate))),
		Rate:    rate,
	}
}

// Extract returns the samples between start and end seconds. Bounds are
// clamped to the buffer.
func Extract(buf Buffer, start, end float64) Buffer {
	if buf.Rate <= 0 || end <= start {
		return Buffer{Rate: buf.Rate}
	}
	lo := int(start * float64(buf.Rate))
	hi := int(end * float64(buf.Rate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(buf.Samples) {
		hi = len(buf.Samples)
	}
	if lo >= hi {
		return Buffer{Rate: buf.Rate}
	}
	out := make([]float32, hi-lo)
	copy(out, buf.Samples[lo:hi])
	return Buffer{Samples: out, Rate: buf.Rate}
}

// Clip hard-limits every sample to the valid [-1, 1] amplitude range in place.
func Clip(buf Buffer) Buffer {
	for i, s := range buf.Samples {
		if s > 1 {
			buf.Samples[i] = 1
		} else if s < -1 {
			buf.Samples[i] = -1
		}
	}
	return buf
}

// Gain scales every sample by the given linear factor in place.
func Gain(buf Buffer, factor float64) Buffer {
	for i := range buf.Samples {
		buf.Samples[i] = float32(float64(buf.Samples[i]) * factor)
	}
	return buf
}

// Peak returns the largest absolute sample value.
func Peak(buf Buffer) float64 {
	var peak float64
	for _, s := range buf.Samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

// LastNonZero returns the index of the last sample with nonzero amplitude,
// or -1 when the buffer is all silence.
func LastNonZero(buf Buffer) int {
	for i := len(buf.Samples) - 1; i >= 0; i-- {
		if buf.Samples[i] != 0 {
			return i
		}
	}
	return -1
}
