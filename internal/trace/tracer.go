package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxIOLen = 500

type traceMsg struct {
	kind string // "session_create", "session_end", "run_create", "run_update", "span"
	// run fields
	runID      string
	durationMs float64
	transcript string
	response   string
	status     string
	metadata   string
	// span fields
	span Span
}

// Tracer writes trace data for one live connection asynchronously via a
// buffered channel. All methods are nil-safe (no-op on nil receiver).
type Tracer struct {
	store     *Store
	sessionID string
	ch        chan traceMsg
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// Begin records a new session and returns its tracer. A nil store yields a
// nil tracer. Must call Close when the connection ends.
func Begin(store *Store, metadata string) *Tracer {
	if store == nil {
		return nil
	}
	t := &Tracer{
		store:     store,
		sessionID: uuid.NewString(),
		ch:        make(chan traceMsg, 64),
		done:      make(chan struct{}),
	}
	go t.drain()
	t.send(traceMsg{kind: "session_create", metadata: metadata})
	return t
}

// SessionID returns the trace id of the connection.
func (t *Tracer) SessionID() string {
	if t == nil {
		return ""
	}
	return t.sessionID
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	handlers := map[string]func() error{
		"session_create": func() error { return t.store.CreateSession(t.sessionID, m.metadata) },
		"session_end":    func() error { return t.store.EndSession(t.sessionID) },
		"run_create":     func() error { return t.store.CreateRun(m.runID, t.sessionID) },
		"run_update":     func() error { return t.store.UpdateRun(m.runID, m.durationMs, m.transcript, m.response, m.status) },
		"span":           func() error { return t.store.CreateSpan(m.span) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

func (t *Tracer) send(m traceMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- m:
	default:
		slog.Warn("trace buffer full, dropping", "kind", m.kind)
	}
}

// StartRun begins a new run and returns its ID.
func (t *Tracer) StartRun() string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.send(traceMsg{kind: "run_create", runID: id})
	return id
}

// EndRun finalizes a run.
func (t *Tracer) EndRun(runID string, durationMs float64, transcript, response, status string) {
	if t == nil || runID == "" {
		return
	}
	t.send(traceMsg{
		kind:       "run_update",
		runID:      runID,
		durationMs: durationMs,
		transcript: truncate(transcript, maxIOLen),
		response:   truncate(response, maxIOLen),
		status:     status,
	})
}

// RecordSpan records a completed span.
func (t *Tracer) RecordSpan(runID, name string, startedAt time.Time, durationMs float64, input, output, status, errMsg string) {
	if t == nil || runID == "" {
		return
	}
	t.send(traceMsg{
		kind: "span",
		span: Span{
			ID:         uuid.NewString(),
			RunID:      runID,
			Name:       name,
			StartedAt:  startedAt,
			DurationMs: durationMs,
			Input:      truncate(input, maxIOLen),
			Output:     truncate(output, maxIOLen),
			Status:     status,
			Error:      errMsg,
		},
	})
}

// Close marks the session ended, drains pending writes and shuts down the
// background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.send(traceMsg{kind: "session_end"})
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()
	<-t.done
}

type runKey struct{}

type runRef struct {
	t  *Tracer
	id string
}

// WithRun attaches the current run to ctx so spans recorded deeper in the
// call chain land under it.
func WithRun(ctx context.Context, t *Tracer, runID string) context.Context {
	if t == nil || runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey{}, runRef{t: t, id: runID})
}

// Record writes a span under the run carried by ctx, if any.
func Record(ctx context.Context, name string, startedAt time.Time, input, output, status, errMsg string) {
	ref, ok := ctx.Value(runKey{}).(runRef)
	if !ok {
		return
	}
	ms := float64(time.Since(startedAt).Microseconds()) / 1000
	ref.t.RecordSpan(ref.id, name, startedAt, ms, input, output, status, errMsg)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
