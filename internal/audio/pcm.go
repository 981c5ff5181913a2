package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM16 reads little-endian signed 16-bit samples. A trailing odd byte is dropped.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := range n {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16 is the inverse of DecodePCM16.
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Mono keeps the first channel of an interleaved PCM16 buffer.
func Mono(data []byte, channels int) []byte {
	if channels <= 1 {
		return data
	}
	frame := channels * 2
	frames := len(data) / frame
	out := make([]byte, frames*2)
	for i := range frames {
		copy(out[i*2:i*2+2], data[i*frame:i*frame+2])
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples on the raw int16 scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func toFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

func fromFloat(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		out[i] = int16(clamped * math.MaxInt16)
	}
	return out
}
