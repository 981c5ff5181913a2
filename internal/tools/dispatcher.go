package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/livesession/internal/metrics"
	"github.com/hubenschmidt/livesession/internal/trace"
)

// Notifier delivers a system notification to the model.
type Notifier interface {
	Notify(ctx context.Context, text string, endOfTurn bool) error
}

// Dispatcher authorizes, runs and answers tool calls.
type Dispatcher struct {
	registry *Registry
	catalog  *Catalog
	broker   *Broker
	base     context.Context

	mu       sync.RWMutex
	notifier Notifier

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. base bounds background work and
// should live as long as the process, not a single connection.
func NewDispatcher(base context.Context, reg *Registry, cat *Catalog, broker *Broker) *Dispatcher {
	return &Dispatcher{registry: reg, catalog: cat, broker: broker, base: base}
}

func (d *Dispatcher) SetNotifier(n Notifier) {
	d.mu.Lock()
	d.notifier = n
	d.mu.Unlock()
}

// Dispatch handles one batch of calls in order. It returns the responses to
// send as a single batch and whether any call asked for a reconnect.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call) ([]Response, bool) {
	var (
		responses []Response
		reconnect bool
	)
	for _, call := range calls {
		resp, again := d.handle(ctx, call)
		if resp != nil {
			responses = append(responses, *resp)
		}
		reconnect = reconnect || again
	}
	return responses, reconnect
}

// Wait blocks until background tools started so far have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) handle(ctx context.Context, call Call) (*Response, bool) {
	start := time.Now()
	log := slog.With("tool", call.Name, "call_id", call.ID)

	if Destructive(call.Name) && !d.broker.Request(ctx, call) {
		log.Info("tool call denied")
		d.finish(ctx, call, start, "denied", DeniedMessage, ErrDenied)
		return respond(call, "result", DeniedMessage), false
	}

	t, ok := d.registry.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		log.Warn("tool call failed", "error", err)
		d.finish(ctx, call, start, "unknown", "", err)
		return respond(call, "error", err.Error()), false
	}

	if d.catalog != nil {
		if err := d.catalog.ValidateArgs(call.Name, call.Args); err != nil {
			log.Warn("tool args invalid", "error", err)
			d.finish(ctx, call, start, "invalid", "", err)
			return respond(call, "error", err.Error()), false
		}
	}

	if t.Shape == Background {
		ack := t.Started
		if t.Ack != nil {
			ack = t.Ack(Args(call.Args))
		}
		d.spawn(t, call)
		d.finish(ctx, call, start, "started", ack, nil)
		if t.Silent {
			return nil, false
		}
		return respond(call, "result", ack), false
	}

	res, err := run(ctx, t, call.Args)
	metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("tool call failed", "error", err)
		d.finish(ctx, call, start, "error", "", err)
		return respond(call, "error", err.Error()), false
	}
	d.finish(ctx, call, start, "ok", render(res.Value), nil)
	return respond(call, "result", res.Value), res.Reconnect
}

func (d *Dispatcher) spawn(t Tool, call Call) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		start := time.Now()
		res, err := run(d.base, t, call.Args)
		metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("background tool failed", "tool", call.Name, "call_id", call.ID, "error", err)
		}
		if t.Notice == nil {
			return
		}
		text := t.Notice(res, err)
		if text == "" {
			return
		}
		d.mu.RLock()
		n := d.notifier
		d.mu.RUnlock()
		if n == nil {
			slog.Warn("background result dropped, no notifier", "tool", call.Name)
			return
		}
		if nerr := n.Notify(d.base, text, true); nerr != nil {
			slog.Warn("background notify failed", "tool", call.Name, "error", nerr)
		}
	}()
}

func (d *Dispatcher) finish(ctx context.Context, call Call, start time.Time, outcome, output string, err error) {
	metrics.ToolCalls.WithLabelValues(call.Name, outcome).Inc()
	status := "ok"
	errMsg := ""
	if err != nil {
		status = outcome
		errMsg = err.Error()
	}
	trace.Record(ctx, call.Name, start, render(call.Args), output, status, errMsg)
}

// run calls the handler, turning a panic into an error.
func run(ctx context.Context, t Tool, args map[string]any) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.Handler(ctx, Args(args))
}

func respond(call Call, key string, value any) *Response {
	return &Response{ID: call.ID, Name: call.Name, Payload: map[string]any{key: value}}
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
