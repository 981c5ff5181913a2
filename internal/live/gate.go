package live

import (
	"context"

	"github.com/hubenschmidt/livesession/internal/audio"
	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/metrics"
)

// Gate feeds captured audio to the outbound queue and, on each speech
// onset, releases the latest camera frame ahead of the audio.
type Gate struct {
	vad    *audio.VAD
	frames *capture.FrameCell
	out    *Outbound
}

func NewGate(vad *audio.VAD, frames *capture.FrameCell, out *Outbound) *Gate {
	return &Gate{vad: vad, frames: frames, out: out}
}

// Handle processes one mono PCM16 chunk.
func (g *Gate) Handle(ctx context.Context, chunk []byte) error {
	res := g.vad.Process(audio.DecodePCM16(chunk))
	if res.Onset {
		metrics.SpeechOnsets.Inc()
		if err := g.attachFrame(ctx); err != nil {
			return err
		}
	}
	return g.out.Push(ctx, AudioChunk(chunk))
}

func (g *Gate) attachFrame(ctx context.Context) error {
	if g.frames == nil {
		return nil
	}
	f, ok := g.frames.Load()
	if !ok {
		return nil
	}
	if err := g.out.Push(ctx, VideoFrame(f)); err != nil {
		return err
	}
	metrics.FramesAttached.Inc()
	return nil
}
