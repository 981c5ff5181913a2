package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os/exec"
	"runtime"
	"time"
)

// maxGrabFailures is how many consecutive failed grabs end the camera unit.
const maxGrabFailures = 3

// Grabber returns one raw camera image.
type Grabber func(ctx context.Context) (image.Image, error)

// Camera captures a frame on a fixed cadence and stores it into a FrameCell.
// It never queues frames itself.
type Camera struct {
	Interval time.Duration
	MaxDim   int
	Grab     Grabber
	Paused   func() bool
}

// NewFFmpegCamera builds a Camera that snapshots device with ffmpeg.
func NewFFmpegCamera(device string, interval time.Duration) *Camera {
	return &Camera{
		Interval: interval,
		MaxDim:   FrameMaxDim,
		Grab:     ffmpegSnapshot(device),
	}
}

// Run captures until ctx ends. Repeated grab failures are treated as a missing
// device: the cell is cleared and the unit ends with nil.
func (c *Camera) Run(ctx context.Context, cell *FrameCell) error {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if c.Paused != nil && c.Paused() {
			continue
		}
		if err := c.captureOnce(ctx, cell); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			slog.Warn("camera grab failed", "error", err, "failures", failures)
			if failures >= maxGrabFailures {
				slog.Warn("camera unavailable, continuing without video")
				cell.Clear()
				return nil
			}
			continue
		}
		failures = 0
	}
}

func (c *Camera) captureOnce(ctx context.Context, cell *FrameCell) error {
	img, err := c.Grab(ctx)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(img, c.MaxDim, FrameQuality)
	if err != nil {
		return err
	}
	cell.Store(frame)
	return nil
}

func ffmpegSnapshot(device string) Grabber {
	return func(ctx context.Context) (image.Image, error) {
		args, err := snapshotArgs(runtime.GOOS, device)
		if err != nil {
			return nil, err
		}
		out, err := exec.CommandContext(ctx, "ffmpeg", args...).Output()
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		img, err := jpeg.Decode(bytes.NewReader(out))
		if err != nil {
			return nil, fmt.Errorf("snapshot decode: %w", err)
		}
		return img, nil
	}
}
