package audio

import (
	"math"
)

const (
	stretchFrameSeconds  = 0.050
	stretchSearchSeconds = 0.010
)

// ResolveRate clamps the rate needed to fit current into target to the
// allowed range. A rate above 1 speeds playback up, below 1 slows it down.
func ResolveRate(current, target, minRate, maxRate float64) float64 {
	if target <= 0 || current <= 0 {
		return 1
	}
	rate := current / target
	if rate < minRate {
		rate = minRate
	}
	if rate > maxRate {
		rate = maxRate
	}
	return rate
}

// TimeStretch changes the playback speed of the buffer by the given rate
// without altering pitch, using waveform-similarity overlap-add. The output
// duration is the input duration divided by rate.
func TimeStretch(buf Buffer, rate float64) Buffer {
	if len(buf.Samples) == 0 || rate <= 0 || math.Abs(rate-1) < 1e-4 {
		return buf.Clone()
	}

	frame := int(float64(buf.Rate) * stretchFrameSeconds)
	if frame < 4 {
		frame = 4
	}
	if frame%2 != 0 {
		frame++
	}
	hop := frame / 2
	search := int(float64(buf.Rate) * stretchSearchSeconds)

	// Inputs shorter than one analysis frame cannot be aligned; fall back to
	// plain resampling of the sample positions.
	if len(buf.Samples) < frame*2 {
		return stretchByInterpolation(buf, rate)
	}

	window := hannWindow(frame)
	outLen := int(float64(len(buf.Samples))/rate) + frame
	out := make([]float32, outLen)

	// First frame is copied as-is to anchor the alignment search.
	for i := 0; i < frame && i < len(buf.Samples); i++ {
		out[i] = buf.Samples[i] * window[i]
	}

	prevStart := 0
	outPos := hop
	for k := 1; ; k++ {
		nominal := int(float64(k) * float64(hop) * rate)
		// The natural continuation of the previous frame keeps waveform
		// phase; search around the nominal position for the best match.
		natural := prevStart + hop
		start := bestAlignment(buf.Samples, natural, nominal, search, frame)
		if start < 0 || start+frame > len(buf.Samples) || outPos+frame > len(out) {
			break
		}
		for i := 0; i < frame; i++ {
			out[outPos+i] += buf.Samples[start+i] * window[i]
		}
		prevStart = start
		outPos += hop
	}

	target := int(float64(len(buf.Samples)) / rate)
	if target < 1 {
		target = 1
	}
	if target > len(out) {
		target = len(out)
	}
	return Buffer{Samples: out[:target], Rate: buf.Rate}
}

// StretchToDuration stretches the buffer toward the target duration with the
// rate clamped to [minRate, maxRate]. When the clamp engages the output keeps
// the residual mismatch rather than truncating or padding. Returns the
// stretched buffer and the realized duration in seconds.
func StretchToDuration(buf Buffer, targetSeconds, minRate, maxRate float64) (Buffer, float64) {
	rate := ResolveRate(buf.Seconds(), targetSeconds, minRate, maxRate)
	out := TimeStretch(buf, rate)
	return out, out.Seconds()
}

// bestAlignment picks the input offset near nominal whose frame best matches
// the natural continuation at the previous hop, by normalized cross
// correlation over the overlap region.
func bestAlignment(samples []float32, natural, nominal, search, frame int) int {
	lo := nominal - search
	hi := nominal + search
	if lo < 0 {
		lo = 0
	}
	if hi+frame > len(samples) {
		hi = len(samples) - frame
	}
	if hi < lo {
		return -1
	}
	if natural < 0 || natural+frame > len(samples) {
		return lo
	}

	best := lo
	bestScore := math.Inf(-1)
	overlap := frame / 2
	for cand := lo; cand <= hi; cand++ {
		var dot, na, nb float64
		for i := 0; i < overlap; i++ {
			a := float64(samples[natural+i])
			b := float64(samples[cand+i])
			dot += a * b
			na += a * a
			nb += b * b
		}
		score := dot
		if norm := math.Sqrt(na * nb); norm > 0 {
			score = dot / norm
		}
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

// stretchByInterpolation handles buffers too short for overlap-add frames.
func stretchByInterpolation(buf Buffer, rate float64) Buffer {
	outLen := int(float64(len(buf.Samples)) / rate)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * rate
		idx := int(pos)
		if idx >= len(buf.Samples)-1 {
			out[i] = buf.Samples[len(buf.Samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = buf.Samples[idx]*(1-frac) + buf.Samples[idx+1]*frac
	}
	return Buffer{Samples: out, Rate: buf.Rate}
}

func hannWindow(size int) []float32 {
	w := make([]float32, size)
	for i := range w {
		w[i] = float32(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size))))
	}
	return w
}
