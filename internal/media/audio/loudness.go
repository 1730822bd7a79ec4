package audio

import (
	"errors"
	"math"
)

// ErrUnmeasurable is returned when a buffer carries no gated loudness
// blocks, typically because it is silent or shorter than one block.
var ErrUnmeasurable = errors.New("loudness not measurable")

const (
	blockSeconds     = 0.400
	blockOverlap     = 0.75
	absoluteGateLUFS = -70.0
	relativeGateLU   = -10.0
)

// MeasureLoudness returns the ITU-R BS.1770-4 integrated loudness of the
// buffer in LUFS, with K-weighting and two-stage gating.
func MeasureLoudness(buf Buffer) (float64, error) {
	if buf.Rate <= 0 || len(buf.Samples) == 0 {
		return 0, ErrUnmeasurable
	}

	weighted := kWeight(buf)
	blockLen := int(blockSeconds * float64(buf.Rate))
	hop := int(float64(blockLen) * (1 - blockOverlap))
	if blockLen < 1 || hop < 1 || len(weighted) < blockLen {
		return 0, ErrUnmeasurable
	}

	var powers []float64
	for start := 0; start+blockLen <= len(weighted); start += hop {
		var sum float64
		for _, s := range weighted[start : start+blockLen] {
			sum += float64(s) * float64(s)
		}
		powers = append(powers, sum/float64(blockLen))
	}

	// Absolute gate.
	var gated []float64
	for _, p := range powers {
		if blockLoudness(p) > absoluteGateLUFS {
			gated = append(gated, p)
		}
	}
	if len(gated) == 0 {
		return 0, ErrUnmeasurable
	}

	// Relative gate at -10 LU below the absolute-gated mean.
	threshold := blockLoudness(mean(gated)) + relativeGateLU
	var final []float64
	for _, p := range gated {
		if blockLoudness(p) > threshold {
			final = append(final, p)
		}
	}
	if len(final) == 0 {
		return 0, ErrUnmeasurable
	}
	return blockLoudness(mean(final)), nil
}

// NormalizeLoudness applies gain so the buffer measures targetLUFS. The
// buffer is modified in place. ErrUnmeasurable is returned with the buffer
// untouched when loudness cannot be measured.
func NormalizeLoudness(buf Buffer, targetLUFS float64) (Buffer, error) {
	current, err := MeasureLoudness(buf)
	if err != nil {
		return buf, err
	}
	gain := math.Pow(10, (targetLUFS-current)/20)
	return Gain(buf, gain), nil
}

func blockLoudness(power float64) float64 {
	if power <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(power)
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// kWeight runs the two-stage K-weighting prefilter: a high-frequency shelf
// modeling head acoustics followed by a high-pass. Coefficients follow the
// analog prototypes from BS.1770-4 so any sample rate is supported.
func kWeight(buf Buffer) []float32 {
	shelf := newShelfFilter(float64(buf.Rate))
	highpass := newHighpassFilter(float64(buf.Rate))

	out := make([]float32, len(buf.Samples))
	for i, s := range buf.Samples {
		out[i] = float32(highpass.process(shelf.process(float64(s))))
	}
	return out
}

type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func newShelfFilter(rate float64) *biquad {
	const (
		f0 = 1681.974450955533
		g  = 3.999843853973347
		q  = 0.7071752369554196
	)
	k := math.Tan(math.Pi * f0 / rate)
	vh := math.Pow(10, g/20)
	vb := math.Pow(vh, 0.4996667741545416)
	a0 := 1 + k/q + k*k
	return &biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2 * (k*k - 1) / a0,
		a2: (1 - k/q + k*k) / a0,
	}
}

func newHighpassFilter(rate float64) *biquad {
	const (
		f0 = 38.13547087602444
		q  = 0.5003270373238773
	)
	k := math.Tan(math.Pi * f0 / rate)
	a0 := 1 + k/q + k*k
	return &biquad{
		b0: 1 / a0,
		b1: -2 / a0,
		b2: 1 / a0,
		a1: 2 * (k*k - 1) / a0,
		a2: (1 - k/q + k*k) / a0,
	}
}
