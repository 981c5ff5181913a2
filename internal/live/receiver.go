package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/metrics"
	"github.com/hubenschmidt/livesession/internal/tools"
	"github.com/hubenschmidt/livesession/internal/trace"
)

// Dispatcher runs a batch of tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []tools.Call) ([]tools.Response, bool)
}

// Receiver routes server events for one session.
type Receiver struct {
	sess       *Session
	bus        *eventbus.Bus
	playback   *Playback
	dispatcher Dispatcher
	chat       *ChatBuffer
	tracer     *trace.Tracer
	reconnect  func()

	input  TranscriptionTracker
	output TranscriptionTracker

	turn turn
}

// turn accumulates one model turn for tracing.
type turn struct {
	runID    string
	started  time.Time
	user     strings.Builder
	response strings.Builder
}

type receiverConfig struct {
	bus        *eventbus.Bus
	playback   *Playback
	dispatcher Dispatcher
	chat       *ChatBuffer
	tracer     *trace.Tracer
	reconnect  func()
}

func newReceiver(sess *Session, cfg receiverConfig) *Receiver {
	if cfg.reconnect == nil {
		cfg.reconnect = func() {}
	}
	return &Receiver{
		sess:       sess,
		bus:        cfg.bus,
		playback:   cfg.playback,
		dispatcher: cfg.dispatcher,
		chat:       cfg.chat,
		tracer:     cfg.tracer,
		reconnect:  cfg.reconnect,
	}
}

// Run reads until the stream fails or ctx ends. Closing the session is what
// unblocks a pending read on cancellation.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		ev, err := r.sess.receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err = r.handle(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Receiver) handle(ctx context.Context, ev *ServerEvent) error {
	r.beginTurn()

	if ev.Text != "" {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeTranscription, Sender: SenderAssistant, Text: ev.Text})
	}
	if ev.Thought != "" {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeThought, Sender: SenderAssistant, Text: ev.Thought})
	}
	for _, chunk := range ev.Audio {
		if !r.playback.Enqueue(chunk) {
			slog.Debug("playback queue full, dropping audio", "session_id", r.sess.ID)
		}
	}
	if ev.InputTranscript != "" {
		r.userSpeech(r.input.Delta(ev.InputTranscript))
	}
	if ev.OutputTranscript != "" {
		r.modelSpeech(r.output.Delta(ev.OutputTranscript))
	}
	if ev.Interrupted {
		r.bargeIn("interrupted")
	}
	if len(ev.ToolCalls) > 0 {
		if err := r.runTools(ctx, ev.ToolCalls); err != nil {
			return err
		}
	}
	if ev.TurnComplete {
		r.completeTurn("ok")
	}
	return nil
}

func (r *Receiver) userSpeech(delta string) {
	if delta == "" {
		return
	}
	r.bargeIn("user_speech")
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeTranscription, Sender: SenderUser, Text: delta})
	r.chat.Add(SenderUser, delta)
	r.turn.user.WriteString(delta)
}

func (r *Receiver) modelSpeech(delta string) {
	if delta == "" {
		return
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeTranscription, Sender: SenderAssistant, Text: delta})
	r.chat.Add(SenderAssistant, delta)
	r.turn.response.WriteString(delta)
}

func (r *Receiver) bargeIn(cause string) {
	n := r.playback.Drain()
	if n > 0 {
		metrics.BargeIns.Inc()
		slog.Debug("playback drained", "cause", cause, "chunks", n, "session_id", r.sess.ID)
	}
}

func (r *Receiver) runTools(ctx context.Context, calls []tools.Call) error {
	ctx = trace.WithRun(ctx, r.tracer, r.turn.runID)
	resps, again := r.dispatcher.Dispatch(ctx, calls)
	if len(resps) > 0 {
		err := r.sess.send(ctx, func(st Stream) error { return st.SendToolResponses(resps) })
		if err != nil {
			return fmt.Errorf("send tool responses: %w", err)
		}
	}
	if again {
		slog.Info("tool requested reconnect", "session_id", r.sess.ID)
		r.reconnect()
	}
	return nil
}

func (r *Receiver) beginTurn() {
	if r.turn.runID != "" || r.tracer == nil {
		return
	}
	r.turn.runID = r.tracer.StartRun()
	r.turn.started = time.Now()
}

func (r *Receiver) completeTurn(status string) {
	r.chat.Flush()
	r.input.Reset()
	r.output.Reset()
	if r.turn.runID != "" {
		ms := float64(time.Since(r.turn.started).Microseconds()) / 1000
		r.tracer.EndRun(r.turn.runID, ms, r.turn.user.String(), r.turn.response.String(), status)
	}
	r.turn = turn{}
}

// finish is called once after the session's units have stopped.
func (r *Receiver) finish(err error) {
	status := "ok"
	if err != nil && !errors.Is(err, errStop) {
		status = "interrupted"
	}
	r.completeTurn(status)
}
