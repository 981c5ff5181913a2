package capture

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func decodeFrame(t *testing.T, f Frame) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestEncodeFrame_Downscales(t *testing.T) {
	f, err := EncodeFrame(solid(2048, 1024), FrameMaxDim, FrameQuality)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", f.MIMEType)

	b := decodeFrame(t, f).Bounds()
	assert.Equal(t, 1024, b.Dx())
	assert.Equal(t, 512, b.Dy())
}

func TestEncodeFrame_PortraitAndSmall(t *testing.T) {
	f, err := EncodeFrame(solid(600, 1800), FrameMaxDim, FrameQuality)
	require.NoError(t, err)
	b := decodeFrame(t, f).Bounds()
	assert.Equal(t, 341, b.Dx())
	assert.Equal(t, 1024, b.Dy())

	f, err = EncodeFrame(solid(320, 240), FrameMaxDim, FrameQuality)
	require.NoError(t, err)
	b = decodeFrame(t, f).Bounds()
	assert.Equal(t, 320, b.Dx(), "small frames are not upscaled")
}

func TestFrameCell(t *testing.T) {
	var cell FrameCell
	_, ok := cell.Load()
	assert.False(t, ok)

	cell.Store(Frame{Data: "a"})
	cell.Store(Frame{Data: "b"})
	f, ok := cell.Load()
	require.True(t, ok)
	assert.Equal(t, "b", f.Data)

	_, ok = cell.Load()
	assert.True(t, ok, "loading does not consume the frame")
}
