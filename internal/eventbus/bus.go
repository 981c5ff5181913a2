package eventbus

import (
	"log/slog"
	"sync"
)

// Type identifies the event payload.
type Type string

const (
	// TypeTranscription carries user or assistant text deltas.
	TypeTranscription Type = "transcription"
	// TypeThought carries model reasoning deltas.
	TypeThought Type = "thought"
	// TypeConfirmation asks the user to approve a destructive tool call.
	TypeConfirmation Type = "tool_confirmation"
	// TypeDisplay asks the UI to show content (images, widgets, notifications).
	TypeDisplay Type = "display_content"
	// TypeProject reports the active project.
	TypeProject Type = "project_update"
	// TypeStatus reports session lifecycle changes.
	TypeStatus Type = "status"
	// TypeJob reports background job state.
	TypeJob Type = "job_state"
	// TypeCAD carries generated CAD artifacts.
	TypeCAD Type = "cad_data"
	// TypeError reports a user-visible failure.
	TypeError Type = "error"
)

// Event is a UI-facing event emitted by the session core.
type Event struct {
	Type         Type          `json:"type"`
	Sender       string        `json:"sender,omitempty"`
	Text         string        `json:"text,omitempty"`
	Status       string        `json:"status,omitempty"`
	Project      string        `json:"project,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Display      *Display      `json:"display,omitempty"`
	Job          *Job          `json:"job,omitempty"`
	Data         any           `json:"data,omitempty"`
}

type Confirmation struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type Display struct {
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
	WidgetType  string `json:"widget_type,omitempty"`
	Data        any    `json:"data,omitempty"`
	DurationMs  int    `json:"duration,omitempty"`
}

type Job struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
}

// Bus fans events out to subscribers. Publishing never blocks; a subscriber
// that falls behind loses events.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	depth int
}

// New constructs a Bus whose subscriber channels hold depth events.
func New(depth int) *Bus {
	if depth <= 0 {
		depth = 256
	}
	return &Bus{subs: make(map[chan Event]struct{}), depth: depth}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	slog.Debug("eventbus subscribe", "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("eventbus drop", "type", ev.Type)
		}
	}
}

// Notice publishes a transient UI notification.
func (b *Bus) Notice(text string, durationMs int) {
	b.Publish(Event{
		Type: TypeDisplay,
		Display: &Display{
			ContentType: "notification",
			Data:        map[string]string{"text": text},
			DurationMs:  durationMs,
		},
	})
}
