package audio

import "math"

const resampleTaps = 31

// Resample converts int16 samples from srcRate to dstRate with linear
// interpolation and a windowed-sinc low-pass on the narrower side.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	in := toFloat(samples)
	cutoff := float64(min(srcRate, dstRate)) / 2.0

	if srcRate > dstRate {
		in = lowPass(in, cutoff, float64(srcRate))
	}

	ratio := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(in))/ratio))
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		out[i] = lerp(in, idx, float32(pos-float64(idx)))
	}

	if dstRate > srcRate {
		out = lowPass(out, cutoff, float64(dstRate))
	}
	return fromFloat(out)
}

func lowPass(samples []float32, cutoff, sampleRate float64) []float32 {
	kernel := blackmanSinc(cutoff/sampleRate, resampleTaps)
	half := resampleTaps / 2
	out := make([]float32, len(samples))
	for i := range samples {
		var acc float32
		for j := max(0, half-i); j < min(resampleTaps, len(samples)-i+half); j++ {
			acc += samples[i+j-half] * kernel[j]
		}
		out[i] = acc
	}
	return out
}

// blackmanSinc builds a unity-gain FIR kernel for normalized cutoff fc.
func blackmanSinc(fc float64, taps int) []float32 {
	half := taps / 2
	kernel := make([]float32, taps)
	var sum float64
	for i := range taps {
		n := float64(i - half)
		v := 1.0
		if n != 0 {
			x := 2.0 * math.Pi * fc * n
			v = math.Sin(x) / x
		}
		w := 0.42 - 0.5*math.Cos(2.0*math.Pi*float64(i)/float64(taps-1)) +
			0.08*math.Cos(4.0*math.Pi*float64(i)/float64(taps-1))
		kernel[i] = float32(v * w)
		sum += v * w
	}
	for i := range kernel {
		kernel[i] *= float32(1.0 / sum)
	}
	return kernel
}

func lerp(samples []float32, idx int, frac float32) float32 {
	if idx+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	return samples[idx]*(1-frac) + samples[idx+1]*frac
}
