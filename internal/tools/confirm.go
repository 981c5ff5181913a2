package tools

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hubenschmidt/livesession/internal/metrics"
)

var destructiveMarkers = []string{"delete", "remove", "wipe", "destroy"}

// Destructive reports whether a tool needs the user's approval before running.
func Destructive(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range destructiveMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ConfirmationRequest is shown to the user for approval.
type ConfirmationRequest struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ConfirmationSink presents requests to the user. Notify must not block.
type ConfirmationSink interface {
	NotifyConfirmation(req ConfirmationRequest)
}

// Broker pairs confirmation requests with the user's answer.
type Broker struct {
	mu      sync.Mutex
	sink    ConfirmationSink
	pending map[string]chan bool
}

func NewBroker() *Broker {
	return &Broker{pending: make(map[string]chan bool)}
}

// SetSink installs the sink; nil removes it and denies whatever is pending.
func (b *Broker) SetSink(s ConfirmationSink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
	if s == nil {
		b.DenyAll()
	}
}

// HasSink reports whether a sink is installed.
func (b *Broker) HasSink() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink != nil
}

// Request blocks until the user answers, ctx ends, or the broker denies
// everything. Without a sink it denies at once.
func (b *Broker) Request(ctx context.Context, call Call) bool {
	b.mu.Lock()
	sink := b.sink
	if sink == nil {
		b.mu.Unlock()
		return false
	}
	id := uuid.NewString()
	ch := make(chan bool, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	metrics.ConfirmationsPending.Inc()
	defer metrics.ConfirmationsPending.Dec()
	defer b.forget(id)

	sink.NotifyConfirmation(ConfirmationRequest{ID: id, Tool: call.Name, Args: call.Args})

	select {
	case granted := <-ch:
		return granted
	case <-ctx.Done():
		return false
	}
}

// Resolve answers one request. It reports false for unknown or already
// answered ids.
func (b *Broker) Resolve(id string, granted bool) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- granted
	return true
}

// DenyAll resolves every pending request as denied.
func (b *Broker) DenyAll() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan bool)
	b.mu.Unlock()
	for _, ch := range pending {
		ch <- false
	}
}

// Pending returns the number of unanswered requests.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
