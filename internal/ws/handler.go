package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/livesession/internal/audio"
	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/metrics"
	"github.com/hubenschmidt/livesession/internal/tools"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Controller is the part of the session supervisor the UI can drive.
type Controller interface {
	SetPaused(paused bool)
	SendText(ctx context.Context, text string) error
	RequestReconnect()
	Stop()
}

// HandlerConfig holds what every UI connection shares.
type HandlerConfig struct {
	Bus     *eventbus.Bus
	Broker  *tools.Broker
	Control Controller
	// Mic receives binary audio frames; nil ignores them.
	Mic           *capture.VirtualMic
	MaxConcurrent int
}

// Handler bridges UI clients to the session: bus events go out as JSON
// text frames, commands and microphone audio come in.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}

	mu      sync.Mutex
	clients int
}

func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 8
	}
	return &Handler{cfg: cfg, sem: make(chan struct{}, maxConc)}
}

// Command is a text frame sent by the client. A frame without a type that
// carries codec fields describes the audio that follows.
type Command struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Granted    bool   `json:"granted,omitempty"`
	Paused     bool   `json:"paused,omitempty"`
	Text       string `json:"text,omitempty"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// audioFormat describes the client's binary frames.
type audioFormat struct {
	codec      audio.Codec
	sampleRate int
	channels   int
}

func defaultFormat() audioFormat {
	return audioFormat{codec: audio.CodecPCM, sampleRate: audio.CaptureRate, channels: 1}
}

// NotifyConfirmation shows a destructive tool call to connected clients.
func (h *Handler) NotifyConfirmation(req tools.ConfirmationRequest) {
	h.cfg.Bus.Publish(eventbus.Event{
		Type:         eventbus.TypeConfirmation,
		Confirmation: &eventbus.Confirmation{ID: req.ID, Tool: req.Tool, Args: req.Args},
	})
}

// ServeHTTP upgrades the connection and serves it until the client leaves.
// Returns 503 when at capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.attach()
	defer h.detach()

	h.serve(r.Context(), conn)
}

// attach installs the handler as the confirmation sink once a client is
// present to answer. The sink swap happens under h.mu so it always matches
// the client count.
func (h *Handler) attach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients++
	metrics.UIClients.Inc()
	if h.clients == 1 && h.cfg.Broker != nil {
		h.cfg.Broker.SetSink(h)
	}
}

func (h *Handler) detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients--
	metrics.UIClients.Dec()
	if h.clients == 0 && h.cfg.Broker != nil {
		h.cfg.Broker.SetSink(nil)
	}
}

func (h *Handler) serve(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	events, unsubscribe := h.cfg.Bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeEvents(ctx, conn, events)
	}()

	slog.Info("ui client connected", "remote", conn.RemoteAddr().String())
	h.readLoop(ctx, conn)
	cancel()
	<-done
	slog.Info("ui client disconnected", "remote", conn.RemoteAddr().String())
}

func writeEvents(ctx context.Context, conn *websocket.Conn, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("event encode failed", "type", ev.Type, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				slog.Warn("write event", "error", err)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn) {
	format := defaultFormat()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("ui connection closed", "error", err)
			return
		}

		if msgType == websocket.BinaryMessage {
			h.pushAudio(data, format)
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Warn("bad ui command", "error", err)
			continue
		}
		if cmd.Type == "" && (cmd.Codec != "" || cmd.SampleRate > 0) {
			format = formatFrom(cmd)
			slog.Info("ui audio format", "codec", format.codec, "sample_rate", format.sampleRate, "channels", format.channels)
			continue
		}
		if err := h.Apply(ctx, cmd); err != nil {
			slog.Warn("ui command failed", "type", cmd.Type, "error", err)
			h.cfg.Bus.Publish(eventbus.Event{Type: eventbus.TypeError, Text: err.Error()})
		}
	}
}

func formatFrom(cmd Command) audioFormat {
	f := defaultFormat()
	if cmd.Codec != "" {
		f.codec = audio.Codec(cmd.Codec)
	}
	if cmd.SampleRate > 0 {
		f.sampleRate = cmd.SampleRate
	}
	if cmd.Channels > 0 {
		f.channels = cmd.Channels
	}
	return f
}

func (h *Handler) pushAudio(data []byte, f audioFormat) {
	if h.cfg.Mic == nil {
		return
	}
	pcm, err := audio.Normalize(data, f.codec, f.sampleRate, f.channels)
	if err != nil {
		slog.Warn("ui audio decode", "error", err)
		return
	}
	if !h.cfg.Mic.Push(pcm) {
		slog.Debug("ui audio dropped")
	}
}

// Apply runs one client command.
func (h *Handler) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case "confirm":
		if h.cfg.Broker == nil || !h.cfg.Broker.Resolve(cmd.ID, cmd.Granted) {
			return fmt.Errorf("no pending confirmation %q", cmd.ID)
		}
		return nil
	case "pause":
		h.cfg.Control.SetPaused(cmd.Paused)
		return nil
	case "text":
		if cmd.Text == "" {
			return nil
		}
		return h.cfg.Control.SendText(ctx, cmd.Text)
	case "reconnect":
		h.cfg.Control.RequestReconnect()
		return nil
	case "stop":
		h.cfg.Control.Stop()
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.Type)
}
