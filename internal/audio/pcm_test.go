package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCM16RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, in, DecodePCM16(EncodePCM16(in)))
}

func TestG711(t *testing.T) {
	assert.Equal(t, []int16{0, 0, -32124, 32124}, ulaw.decode([]byte{0xFF, 0x7F, 0x00, 0x80}))
	assert.Equal(t, []int16{8, -8, 32256, -32256}, alaw.decode([]byte{0xD5, 0x55, 0xAA, 0x2A}))

	for i := range 128 {
		assert.Equal(t, -ulaw[i|0x80], ulaw[i], "mu-law code %#x", i)
	}
}

func TestMono_KeepsFirstChannel(t *testing.T) {
	stereo := EncodePCM16([]int16{10, -10, 20, -20, 30, -30})
	assert.Equal(t, []int16{10, 20, 30}, DecodePCM16(Mono(stereo, 2)))

	mono := EncodePCM16([]int16{1, 2})
	assert.Equal(t, mono, Mono(mono, 1))
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 1200, RMS([]int16{1200, -1200, 1200, -1200}), 1e-9)
}

func TestNormalize(t *testing.T) {
	t.Run("pcm passthrough at capture rate", func(t *testing.T) {
		in := EncodePCM16([]int16{5, 6, 7, 8})
		out, err := Normalize(in, CodecPCM, CaptureRate, 1)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("g711 ulaw is expanded and upsampled", func(t *testing.T) {
		in := make([]byte, 160)
		for i := range in {
			in[i] = 0xFF
		}
		out, err := Normalize(in, CodecG711Ulaw, 0, 1)
		require.NoError(t, err)
		assert.Len(t, out, 320*2)
	})

	t.Run("unknown codec", func(t *testing.T) {
		_, err := Normalize([]byte{1, 2}, Codec("opus"), 48000, 1)
		assert.ErrorContains(t, err, "unsupported codec")
	})
}

func TestResample_Length(t *testing.T) {
	in := make([]int16, 4800)
	assert.Len(t, Resample(in, 48000, 16000), 1600)
	assert.Equal(t, in, Resample(in, 16000, 16000))
}

func TestWAVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := NewWAVWriter(path, 24000)
	require.NoError(t, err)

	require.NoError(t, w.Write(EncodePCM16(tone(1000, 240))))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write([]byte{0, 0}), os.ErrClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(24000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
}
