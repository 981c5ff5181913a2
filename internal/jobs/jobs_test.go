package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRegistry_StartRemovesOnReturn(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	require.True(t, r.Start(context.Background(), "a", "job a", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.False(t, r.Start(context.Background(), "a", "dup", func(context.Context) error { return nil }))
	assert.True(t, r.Has("a"))

	close(release)
	r.Wait()
	assert.False(t, r.Has("a"))
	assert.Empty(t, r.List())
}

func TestRegistry_CancelAndCancelAll(t *testing.T) {
	r := NewRegistry()
	var cancelled atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, r.Start(context.Background(), id, id, func(ctx context.Context) error {
			<-ctx.Done()
			cancelled.Add(1)
			return ctx.Err()
		}))
	}

	require.NoError(t, r.Cancel("a"))
	assert.ErrorIs(t, r.Cancel("a"), ErrNotFound)

	r.CancelAll()
	r.Wait()
	assert.Equal(t, int32(3), cancelled.Load())
	assert.Empty(t, r.List())
}

func TestRegistry_ListOldestFirst(t *testing.T) {
	r := NewRegistry()
	r.Register("first", "1", nil)
	time.Sleep(2 * time.Millisecond)
	r.Register("second", "2", nil)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].ID)
	assert.True(t, r.CompleteAndRemove("first"))
	assert.False(t, r.CompleteAndRemove("first"))
}

type staticLister struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *staticLister) set(s ...Status) {
	l.mu.Lock()
	l.statuses = s
	l.mu.Unlock()
}

func (l *staticLister) ListJobs(context.Context) ([]Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.statuses...), nil
}

type trackSet map[string]bool

func (s trackSet) Has(id string) bool { return s[id] }

func newMonitor(l Lister, tracked Tracker, got *[]string) *Monitor {
	start := time.Unix(1000, 0)
	return NewMonitor(MonitorConfig{
		Lister:  l,
		Tracked: tracked,
		Label:   "Jules task",
		Clock:   func() time.Time { return start },
		Deliver: func(_ context.Context, _ Notice, text string) { *got = append(*got, text) },
	})
}

func TestMonitor_SameStateTwiceNotifiesOnce(t *testing.T) {
	l := &staticLister{}
	var got []string
	m := newMonitor(l, nil, &got)
	ctx := context.Background()

	l.set(Status{ID: "s1", Title: "Fix tests", State: "PLANNING"})
	require.NoError(t, m.Poll(ctx))
	assert.Empty(t, got, "first sighting of a non-terminal state is silent")

	l.set(Status{ID: "s1", Title: "Fix tests", State: "IN_PROGRESS"})
	require.NoError(t, m.Poll(ctx))
	require.NoError(t, m.Poll(ctx))
	assert.Equal(t, []string{"Jules task 'Fix tests' has moved to IN_PROGRESS."}, got)
}

func TestMonitor_FirstSighting(t *testing.T) {
	l := &staticLister{}
	var got []string
	m := newMonitor(l, nil, &got)

	l.set(
		Status{ID: "old", State: "COMPLETED", Updated: time.Unix(10, 0)},
		Status{ID: "new", State: "AWAITING_USER_FEEDBACK", Updated: time.Unix(2000, 0)},
		Status{ID: "undated", State: "FAILED"},
	)
	require.NoError(t, m.Poll(context.Background()))
	assert.Equal(t, []string{
		"Jules task 'new' has moved to AWAITING_USER_FEEDBACK.",
		"Jules task 'undated' has moved to FAILED.",
	}, got)
}

func TestMonitor_SkipsTrackedAndForgetsMissing(t *testing.T) {
	l := &staticLister{}
	var got []string
	m := newMonitor(l, trackSet{"mine": true}, &got)
	ctx := context.Background()

	l.set(Status{ID: "mine", State: "PLANNING"}, Status{ID: "other", State: "PLANNING"})
	require.NoError(t, m.Poll(ctx))
	l.set(Status{ID: "mine", State: "IN_PROGRESS"})
	require.NoError(t, m.Poll(ctx))
	assert.Empty(t, got)

	// "other" disappeared, so reappearing counts as a first sighting
	l.set(Status{ID: "mine", State: "IN_PROGRESS"}, Status{ID: "other", State: "IN_PROGRESS"})
	require.NoError(t, m.Poll(ctx))
	assert.Empty(t, got)
}

type julesServer struct {
	mu          sync.Mutex
	limited     int
	activities  []map[string]any
	lastBody    map[string]any
	lastPath    string
	apiKeySeen  string
	sendCounter int
}

func (s *julesServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeySeen = r.Header.Get("x-goog-api-key")
	s.lastPath = r.URL.Path
	if s.limited > 0 {
		s.limited--
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		s.lastBody = nil
		_ = json.Unmarshal(data, &s.lastBody)
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/sessions":
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "sessions/42", "state": "QUEUED"})
	case r.Method == http.MethodPost && r.URL.Path == "/sessions/42:sendMessage":
		s.sendCounter++
		_, _ = w.Write([]byte(`{}`))
	case r.URL.Path == "/sessions":
		_, _ = w.Write([]byte(`{"sessions":[{"name":"sessions/42","title":"Fix tests","state":"IN_PROGRESS","updateTime":"2025-01-02T03:04:05Z"}]}`))
	case r.URL.Path == "/sources":
		_, _ = w.Write([]byte(`{"sources":[{"name":"sources/github/acme/app"}]}`))
	case r.URL.Path == "/sessions/42/activities":
		_ = json.NewEncoder(w).Encode(map[string]any{"activities": s.activities})
	default:
		http.NotFound(w, r)
	}
}

func newJulesTest(t *testing.T) (*julesServer, *JulesClient, *[]time.Duration) {
	t.Helper()
	js := &julesServer{}
	srv := httptest.NewServer(http.HandlerFunc(js.handler))
	t.Cleanup(srv.Close)
	c := NewJulesClient("key", srv.Client()).WithBaseURL(srv.URL)
	var waits []time.Duration
	c.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return js, c, &waits
}

func TestJules_CreateSessionRetriesOnRateLimit(t *testing.T) {
	js, c, waits := newJulesTest(t)
	js.limited = 2

	s, err := c.CreateSession(context.Background(), "fix the build", "sources/github/acme/app", "Jules Task")
	require.NoError(t, err)
	assert.Equal(t, "sessions/42", s.Name)
	assert.Equal(t, "Jules Task", s.Title)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)

	assert.Equal(t, "key", js.apiKeySeen)
	assert.Equal(t, "AUTO_CREATE_PR", js.lastBody["automationMode"])
	assert.Equal(t, "main", gjson.Get(mustJSON(t, js.lastBody), "sourceContext.githubRepoContext.startingBranch").String())
}

func TestJules_GivesUpAfterThreeAttempts(t *testing.T) {
	js, c, waits := newJulesTest(t)
	js.limited = 5

	_, err := c.ListSources(context.Background())
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *waits)
}

func TestJules_ListingsAndMessages(t *testing.T) {
	js, c, _ := newJulesTest(t)
	ctx := context.Background()

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Fix tests", jobs[0].Title)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), jobs[0].Updated.UTC())

	sources, err := c.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	require.NoError(t, c.SendMessage(ctx, "42", "looks good"))
	assert.Equal(t, 1, js.sendCounter)
	assert.Equal(t, "looks good", js.lastBody["prompt"])
}

func TestJules_NoKey(t *testing.T) {
	_, err := NewJulesClient("", nil).ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestJules_PollRelaysUntilComplete(t *testing.T) {
	js, c, _ := newJulesTest(t)
	js.activities = []map[string]any{
		{"planGenerated": map[string]any{}},
		{"agentMessaged": map[string]any{"agentMessage": "Working on it"}},
	}
	polls := 0
	c.wait = func(context.Context, time.Duration) error {
		polls++
		js.mu.Lock()
		if polls == 1 {
			js.activities = append(js.activities,
				map[string]any{"agentMessaged": map[string]any{"agentMessage": "Could you give feedback on the plan?"}},
				map[string]any{"sessionCompleted": map[string]any{}},
			)
		}
		js.mu.Unlock()
		return nil
	}

	var relayed []string
	err := c.Poll(context.Background(), "42", time.Minute, func(_ context.Context, text string) {
		relayed = append(relayed, text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Jules has generated a plan.",
		"Working on it",
		"Jules is asking for feedback on session sessions/42. Please use the send message functionality to respond.",
		"Jules has completed the session.",
	}, relayed)
	assert.Equal(t, 1, polls)
}

func TestDescribeActivity_LegacyKeys(t *testing.T) {
	text, done := DescribeActivity("s", gjson.Parse(`{"agentMessage":{"content":"hello"}}`))
	assert.Equal(t, "hello", text)
	assert.False(t, done)

	text, done = DescribeActivity("s", gjson.Parse(`{"sessionComplete":{}}`))
	assert.Equal(t, "Jules has completed the session.", text)
	assert.True(t, done)

	text, _ = DescribeActivity("s", gjson.Parse(`{"progressUpdated":{}}`))
	assert.Empty(t, text)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
