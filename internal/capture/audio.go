package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/hubenschmidt/livesession/internal/audio"
)

const (
	// ChunkFrames is the number of sample frames per emitted chunk.
	ChunkFrames = 1024
	pausePoll   = 100 * time.Millisecond
)

// AudioSource produces mono PCM16 chunks at MicSampleRate until ctx ends.
// Returning nil means the source ended on its own (device missing or closed)
// and the session can continue without audio.
type AudioSource interface {
	Run(ctx context.Context, emit func([]byte)) error
}

// Mic captures the host microphone through an ffmpeg subprocess.
type Mic struct {
	Device   string
	Channels int
	Paused   func() bool
}

func (m *Mic) Run(ctx context.Context, emit func([]byte)) error {
	args, err := micArgs(runtime.GOOS, m.Device, m.Channels)
	if err != nil {
		slog.Warn("mic unavailable, continuing without audio", "error", err)
		return nil
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mic stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err = cmd.Start(); err != nil {
		slog.Warn("mic open failed, continuing without audio", "device", m.Device, "error", err)
		return nil
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	channels := max(1, m.Channels)
	slog.Info("mic capture started", "device", m.Device, "channels", channels, "sample_rate", MicSampleRate)
	return readChunks(ctx, stdout, channels, m.Paused, emit)
}

func readChunks(ctx context.Context, r io.Reader, channels int, paused func() bool, emit func([]byte)) error {
	buf := make([]byte, ChunkFrames*2*channels)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if paused != nil && paused() {
			if !sleepCtx(ctx, pausePoll) {
				return nil
			}
			continue
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			emit(audio.Mono(chunk, channels))
		}
		if err == nil {
			continue
		}
		if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Warn("mic read failed, continuing without audio", "error", err)
		}
		return nil
	}
}

// VirtualMic is an AudioSource fed by a remote client. Push never blocks;
// chunks arriving while no session consumes them are dropped.
type VirtualMic struct {
	ch     chan []byte
	Paused func() bool
}

func NewVirtualMic(depth int) *VirtualMic {
	return &VirtualMic{ch: make(chan []byte, depth)}
}

// Push queues one mono PCM16 chunk at MicSampleRate.
func (v *VirtualMic) Push(chunk []byte) bool {
	select {
	case v.ch <- chunk:
		return true
	default:
		return false
	}
}

func (v *VirtualMic) Run(ctx context.Context, emit func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-v.ch:
			if v.Paused != nil && v.Paused() {
				continue
			}
			emit(chunk)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
