package live

import (
	"context"
	"fmt"

	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/metrics"
)

// OutboundCapacity bounds the queue between capture and the sender.
const OutboundCapacity = 10

type ItemKind int

const (
	KindAudio ItemKind = iota
	KindVideo
)

func (k ItemKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// OutboundItem is an audio chunk or a camera frame bound for the model.
type OutboundItem struct {
	Kind  ItemKind
	Audio []byte
	Frame capture.Frame
}

func AudioChunk(pcm []byte) OutboundItem { return OutboundItem{Kind: KindAudio, Audio: pcm} }

func VideoFrame(f capture.Frame) OutboundItem { return OutboundItem{Kind: KindVideo, Frame: f} }

// Outbound is a FIFO queue of items. Push blocks while the queue is full.
type Outbound struct {
	ch chan OutboundItem
}

func NewOutbound(capacity int) *Outbound {
	if capacity <= 0 {
		capacity = OutboundCapacity
	}
	return &Outbound{ch: make(chan OutboundItem, capacity)}
}

func (o *Outbound) Push(ctx context.Context, item OutboundItem) error {
	select {
	case o.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Outbound) Pop(ctx context.Context) (OutboundItem, error) {
	select {
	case item := <-o.ch:
		return item, nil
	case <-ctx.Done():
		return OutboundItem{}, ctx.Err()
	}
}

func (o *Outbound) Len() int { return len(o.ch) }

// runSender writes queued items in order until ctx ends or a write fails.
func (s *Session) runSender(ctx context.Context, q *Outbound) error {
	for {
		item, err := q.Pop(ctx)
		if err != nil {
			return nil
		}
		if err = s.write(ctx, item); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.OutboundWriteErrors.Inc()
			return fmt.Errorf("send %s: %w", item.Kind, err)
		}
		metrics.OutboundItems.WithLabelValues(item.Kind.String()).Inc()
	}
}

func (s *Session) write(ctx context.Context, item OutboundItem) error {
	if item.Kind == KindVideo {
		return s.send(ctx, func(st Stream) error { return st.SendVideo(item.Frame) })
	}
	return s.send(ctx, func(st Stream) error { return st.SendAudio(item.Audio) })
}
