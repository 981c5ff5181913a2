package audio

// ulawBias is added before the segment shift and removed after it.
const ulawBias = 0x84

// g711 maps every 8-bit companded code to its linear PCM16 sample.
type g711 [256]int16

var (
	ulaw = newG711(ulawSample)
	alaw = newG711(alawSample)
)

func newG711(expand func(byte) int16) *g711 {
	var t g711
	for i := range t {
		t[i] = expand(byte(i))
	}
	return &t
}

func (t *g711) decode(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = t[b]
	}
	return out
}

// ulawSample expands one μ-law code. Codes are stored inverted.
func ulawSample(b byte) int16 {
	b = ^b
	seg := (b >> 4) & 0x07
	mag := ((int16(b&0x0F)<<3 + ulawBias) << seg) - ulawBias
	if b&0x80 != 0 {
		return -mag
	}
	return mag
}

// alawSample expands one A-law code. Even bits are inverted on the wire and
// a clear sign bit means negative.
func alawSample(b byte) int16 {
	b ^= 0x55
	seg := (b >> 4) & 0x07
	mag := int16(b&0x0F)<<4 + 8
	if seg > 0 {
		mag = (mag + 0x100) << (seg - 1)
	}
	if b&0x80 == 0 {
		return -mag
	}
	return mag
}
