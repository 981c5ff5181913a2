package audio

import "fmt"

type Codec string

const (
	CodecPCM      Codec = "pcm"
	CodecG711Ulaw Codec = "g711_ulaw"
	CodecG711Alaw Codec = "g711_alaw"
)

// CaptureRate is the sample rate the live stream expects for microphone audio.
const CaptureRate = 16000

// decoder holds a codec's decode function and its fixed output sample rate.
// A rate of 0 means the caller-supplied rate applies.
type decoder struct {
	fn   func([]byte) []int16
	rate int
}

var decoders = map[Codec]decoder{
	CodecPCM:      {fn: DecodePCM16, rate: 0},
	CodecG711Ulaw: {fn: ulaw.decode, rate: 8000},
	CodecG711Alaw: {fn: alaw.decode, rate: 8000},
}

// Normalize decodes a client audio frame and converts it to mono PCM16 at CaptureRate.
func Normalize(data []byte, codec Codec, sampleRate, channels int) ([]byte, error) {
	if codec == "" {
		codec = CodecPCM
	}
	dec, ok := decoders[codec]
	if !ok {
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}
	if codec == CodecPCM {
		data = Mono(data, channels)
	}
	rate := dec.rate
	if rate == 0 {
		rate = sampleRate
	}
	samples := dec.fn(data)
	if rate > 0 && rate != CaptureRate {
		samples = Resample(samples, rate, CaptureRate)
	}
	return EncodePCM16(samples), nil
}
