package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

const (
	// FrameMaxDim bounds both sides of an attached camera frame.
	FrameMaxDim  = 1024
	FrameQuality = 85
	FrameMIME    = "image/jpeg"
)

// Frame is one encoded camera capture ready to be attached to a turn.
type Frame struct {
	Data       string // base64
	MIMEType   string
	CapturedAt time.Time
}

// FrameCell holds the most recent camera frame. The camera unit is the only
// writer; readers take the frame without removing it.
type FrameCell struct {
	p atomic.Pointer[Frame]
}

func (c *FrameCell) Store(f Frame) {
	c.p.Store(&f)
}

// Clear drops the held frame so a dead camera never supplies old images.
func (c *FrameCell) Clear() {
	c.p.Store(nil)
}

// Load returns the latest frame, or false if none has been captured yet.
func (c *FrameCell) Load() (Frame, bool) {
	f := c.p.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// EncodeFrame fits img inside maxDim x maxDim, keeping aspect ratio and never
// upscaling, then encodes it as base64 JPEG.
func EncodeFrame(img image.Image, maxDim, quality int) (Frame, error) {
	scaled := fit(img, maxDim)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return Frame{}, fmt.Errorf("frame encode: %w", err)
	}
	return Frame{
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
		MIMEType:   FrameMIME,
		CapturedAt: time.Now(),
	}, nil
}

func fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
