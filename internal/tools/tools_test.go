package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	reqs []ConfirmationRequest
	seen chan ConfirmationRequest
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(chan ConfirmationRequest, 8)}
}

func (s *recordingSink) NotifyConfirmation(req ConfirmationRequest) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	s.seen <- req
}

type notice struct {
	text      string
	endOfTurn bool
}

type recordingNotifier struct {
	ch chan notice
}

func (n *recordingNotifier) Notify(_ context.Context, text string, endOfTurn bool) error {
	n.ch <- notice{text: text, endOfTurn: endOfTurn}
	return nil
}

const testCatalog = `
tools:
  - name: write_file
    parameters:
      type: object
      properties:
        path: {type: string}
        content: {type: string}
      required: [path, content]
  - name: delete_entry
    parameters:
      type: object
      properties:
        name: {type: string}
      required: [name]
  - name: run_web_agent
    behavior: non_blocking
    parameters:
      type: object
      properties:
        prompt: {type: string}
      required: [prompt]
  - name: generate_cad
    behavior: non_blocking
  - name: switch_project
  - name: explode
`

func newTestDispatcher(t *testing.T) (*Dispatcher, *Broker, *recordingNotifier, *[]string) {
	t.Helper()
	cat, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	var mu sync.Mutex
	written := []string{}
	release := make(chan struct{})

	reg := NewRegistry()
	require.NoError(t, reg.Register(Tool{Name: "write_file", Handler: func(_ context.Context, a Args) (Result, error) {
		mu.Lock()
		written = append(written, a.String("path"))
		mu.Unlock()
		return Text("File '" + a.String("path") + "' written."), nil
	}}))
	require.NoError(t, reg.Register(Tool{Name: "delete_entry", Handler: func(_ context.Context, a Args) (Result, error) {
		return Text("Timer '" + a.String("name") + "' deleted."), nil
	}}))
	require.NoError(t, reg.Register(Tool{
		Name:    "run_web_agent",
		Shape:   Background,
		Started: "Web Navigation started. Do not reply to this message.",
		Handler: func(ctx context.Context, a Args) (Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
			return Text("done: " + a.String("prompt")), nil
		},
		Notice: func(r Result, err error) string {
			return "Web Agent has finished.\nResult: " + r.Value.(string)
		},
	}))
	require.NoError(t, reg.Register(Tool{Name: "generate_cad", Shape: Background, Silent: true, Handler: func(context.Context, Args) (Result, error) {
		return Result{}, nil
	}}))
	require.NoError(t, reg.Register(Tool{Name: "switch_project", Shape: Local, Handler: func(context.Context, Args) (Result, error) {
		return Result{Value: "Switched.", Reconnect: true}, nil
	}}))
	require.NoError(t, reg.Register(Tool{Name: "explode", Handler: func(context.Context, Args) (Result, error) {
		panic("boom")
	}}))
	require.NoError(t, reg.Validate(cat))

	broker := NewBroker()
	d := NewDispatcher(context.Background(), reg, cat, broker)
	n := &recordingNotifier{ch: make(chan notice, 4)}
	d.SetNotifier(n)
	t.Cleanup(func() {
		close(release)
		d.Wait()
	})
	return d, broker, n, &written
}

func TestDestructive(t *testing.T) {
	for name, want := range map[string]bool{
		"delete_entry":       true,
		"trello_delete_card": true,
		"RemoveFile":         true,
		"wipe_disk":          true,
		"self_destroy":       true,
		"write_file":         false,
		"list_timers":        false,
	} {
		assert.Equal(t, want, Destructive(name), name)
	}
}

func TestDispatchWriteFileRespondsOnce(t *testing.T) {
	d, _, _, written := newTestDispatcher(t)

	resps, reconnect := d.Dispatch(context.Background(), []Call{{
		ID:   "call-1",
		Name: "write_file",
		Args: map[string]any{"path": "notes.txt", "content": "hello"},
	}})

	require.Len(t, resps, 1)
	assert.Equal(t, "call-1", resps[0].ID)
	assert.Equal(t, "write_file", resps[0].Name)
	assert.Equal(t, map[string]any{"result": "File 'notes.txt' written."}, resps[0].Payload)
	assert.False(t, reconnect)
	assert.Equal(t, []string{"notes.txt"}, *written)
}

func TestDestructiveWithoutSinkIsDeniedImmediately(t *testing.T) {
	d, broker, _, _ := newTestDispatcher(t)

	done := make(chan []Response, 1)
	go func() {
		resps, _ := d.Dispatch(context.Background(), []Call{{ID: "c", Name: "delete_entry", Args: map[string]any{"name": "tea"}}})
		done <- resps
	}()

	select {
	case resps := <-done:
		require.Len(t, resps, 1)
		assert.Equal(t, map[string]any{"result": DeniedMessage}, resps[0].Payload)
	case <-time.After(time.Second):
		t.Fatal("destructive call suspended without a confirmation sink")
	}
	assert.Zero(t, broker.Pending())
}

func TestDestructiveWithSink(t *testing.T) {
	t.Run("granted runs the tool", func(t *testing.T) {
		d, broker, _, _ := newTestDispatcher(t)
		sink := newRecordingSink()
		broker.SetSink(sink)

		done := make(chan []Response, 1)
		go func() {
			resps, _ := d.Dispatch(context.Background(), []Call{{ID: "c", Name: "delete_entry", Args: map[string]any{"name": "tea"}}})
			done <- resps
		}()

		req := <-sink.seen
		assert.Equal(t, "delete_entry", req.Tool)
		assert.True(t, broker.Resolve(req.ID, true))

		resps := <-done
		require.Len(t, resps, 1)
		assert.Equal(t, map[string]any{"result": "Timer 'tea' deleted."}, resps[0].Payload)
		assert.False(t, broker.Resolve(req.ID, true), "second resolve must be rejected")
	})

	t.Run("denied", func(t *testing.T) {
		d, broker, _, _ := newTestDispatcher(t)
		sink := newRecordingSink()
		broker.SetSink(sink)

		done := make(chan []Response, 1)
		go func() {
			resps, _ := d.Dispatch(context.Background(), []Call{{ID: "c", Name: "delete_entry", Args: map[string]any{"name": "tea"}}})
			done <- resps
		}()
		req := <-sink.seen
		broker.Resolve(req.ID, false)

		resps := <-done
		assert.Equal(t, map[string]any{"result": DeniedMessage}, resps[0].Payload)
	})

	t.Run("teardown denies pending", func(t *testing.T) {
		d, broker, _, _ := newTestDispatcher(t)
		sink := newRecordingSink()
		broker.SetSink(sink)

		done := make(chan []Response, 1)
		go func() {
			resps, _ := d.Dispatch(context.Background(), []Call{{ID: "c", Name: "delete_entry", Args: map[string]any{"name": "tea"}}})
			done <- resps
		}()
		<-sink.seen
		broker.DenyAll()

		resps := <-done
		assert.Equal(t, map[string]any{"result": DeniedMessage}, resps[0].Payload)
		assert.Zero(t, broker.Pending())
	})

	t.Run("context cancel denies", func(t *testing.T) {
		d, broker, _, _ := newTestDispatcher(t)
		broker.SetSink(newRecordingSink())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		resps, _ := d.Dispatch(ctx, []Call{{ID: "c", Name: "delete_entry", Args: map[string]any{"name": "tea"}}})
		assert.Equal(t, map[string]any{"result": DeniedMessage}, resps[0].Payload)
	})
}

func TestBackgroundToolRespondsStartedThenNotifies(t *testing.T) {
	cat, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	release := make(chan struct{})
	reg := NewRegistry()
	require.NoError(t, reg.Register(Tool{
		Name:    "run_web_agent",
		Shape:   Background,
		Started: "Web Navigation started. Do not reply to this message.",
		Handler: func(context.Context, Args) (Result, error) {
			<-release
			return Text("found it"), nil
		},
		Notice: func(r Result, err error) string {
			return "Web Agent has finished.\nResult: " + r.Value.(string)
		},
	}))
	d := NewDispatcher(context.Background(), reg, cat, NewBroker())
	n := &recordingNotifier{ch: make(chan notice, 1)}
	d.SetNotifier(n)

	resps, _ := d.Dispatch(context.Background(), []Call{{ID: "w1", Name: "run_web_agent", Args: map[string]any{"prompt": "find tea"}}})
	require.Len(t, resps, 1)
	assert.Equal(t, "w1", resps[0].ID)
	assert.Equal(t, map[string]any{"result": "Web Navigation started. Do not reply to this message."}, resps[0].Payload)

	select {
	case <-n.ch:
		t.Fatal("notification before the work finished")
	default:
	}

	close(release)
	select {
	case got := <-n.ch:
		assert.Equal(t, "Web Agent has finished.\nResult: found it", got.text)
		assert.True(t, got.endOfTurn)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	d.Wait()
}

func TestBatchOrderingAndShapes(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	resps, reconnect := d.Dispatch(context.Background(), []Call{
		{ID: "1", Name: "generate_cad", Args: map[string]any{}},
		{ID: "2", Name: "write_file", Args: map[string]any{"path": "a", "content": "b"}},
		{ID: "3", Name: "nope"},
		{ID: "4", Name: "write_file", Args: map[string]any{"path": "a"}},
		{ID: "5", Name: "explode"},
		{ID: "6", Name: "switch_project"},
	})

	require.Len(t, resps, 5, "generate_cad sends no response")
	ids := make([]string, len(resps))
	for i, r := range resps {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"2", "3", "4", "5", "6"}, ids)
	assert.Contains(t, resps[1].Payload["error"], "unknown tool")
	assert.Contains(t, resps[2].Payload["error"], "invalid arguments for write_file")
	assert.Contains(t, resps[3].Payload["error"], "panicked")
	assert.Equal(t, "Switched.", resps[4].Payload["result"])
	assert.True(t, reconnect)
}

func TestRegistryValidate(t *testing.T) {
	cat, err := ParseCatalog([]byte(`
tools:
  - name: a
  - name: b
    behavior: non_blocking
`))
	require.NoError(t, err)

	reg := NewRegistry()
	noop := func(context.Context, Args) (Result, error) { return Result{}, nil }
	require.NoError(t, reg.Register(Tool{Name: "a", Handler: noop}))
	require.NoError(t, reg.Register(Tool{Name: "b", Handler: noop}))
	require.NoError(t, reg.Register(Tool{Name: "c", Handler: noop}))
	assert.Error(t, reg.Register(Tool{Name: "a", Handler: noop}))

	err = reg.Validate(cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool b: behavior")
	assert.Contains(t, err.Error(), "tool c: registered but not declared")
}

func TestEmbeddedCatalog(t *testing.T) {
	cat, err := LoadCatalog()
	require.NoError(t, err)

	d, ok := cat.Lookup("run_web_agent")
	require.True(t, ok)
	assert.True(t, d.NonBlocking())

	err = cat.ValidateArgs("set_timer", map[string]any{"name": "tea", "duration": float64(0)})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "set_timer", verr.Tool)

	assert.NoError(t, cat.ValidateArgs("set_timer", map[string]any{"name": "tea", "duration": float64(300)}))
	assert.NoError(t, cat.ValidateArgs("list_timers", nil))
}

func TestArgs(t *testing.T) {
	a := Args{"n": float64(3), "f": 2.5, "s": "x", "list": []any{"a", 1, "b"}, "obj": map[string]any{"k": 1}}

	n, ok := a.Int("n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = a.Int("f")
	assert.False(t, ok)
	assert.Equal(t, "x", a.String("s"))
	assert.Equal(t, `{"k":1}`, a.String("obj"))
	assert.Equal(t, []string{"a", "b"}, a.Strings("list"))
	assert.False(t, a.Has("missing"))
}
