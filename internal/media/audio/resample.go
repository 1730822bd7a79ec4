package audio

// Resample converts the buffer to the target sample rate using linear
// interpolation. The input buffer is returned unchanged when rates match.
func Resample(buf Buffer, rate int) Buffer {
	if buf.Rate == rate || buf.Rate <= 0 || rate <= 0 || len(buf.Samples) == 0 {
		return Buffer{Samples: buf.Samples, Rate: rate}
	}

	ratio := float64(buf.Rate) / float64(rate)
	outLen := int(float64(len(buf.Samples)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(buf.Samples)-1 {
			out[i] = buf.Samples[len(buf.Samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = buf.Samples[idx]*(1-frac) + buf.Samples[idx+1]*frac
	}
	return Buffer{Samples: out, Rate: rate}
}
