package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	JulesBaseURL     = "https://jules.googleapis.com/v1alpha"
	julesAttempts    = 3
	julesSessionPath = "sessions/"
)

var ErrNoAPIKey = errors.New("jules api key not configured")

// JulesSession is the subset of a Jules session this package uses.
type JulesSession struct {
	Name    string    `json:"name"`
	Title   string    `json:"title"`
	State   string    `json:"state"`
	Updated time.Time `json:"update_time"`
}

// JulesClient talks to the Jules REST API.
type JulesClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	// wait sleeps between rate-limited attempts; tests replace it.
	wait func(ctx context.Context, d time.Duration) error
}

func NewJulesClient(apiKey string, client *http.Client) *JulesClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &JulesClient{baseURL: JulesBaseURL, apiKey: apiKey, client: client, wait: sleepCtx}
}

// WithBaseURL points the client at another endpoint.
func (c *JulesClient) WithBaseURL(u string) *JulesClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SessionName normalizes a bare id to the "sessions/<id>" resource name.
func SessionName(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, julesSessionPath) {
		return id
	}
	return julesSessionPath + id
}

// do sends one request, retrying on 429 with 1s, 2s, 4s waits.
func (c *JulesClient) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	if c.apiKey == "" {
		return gjson.Result{}, ErrNoAPIKey
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("marshal: %w", err)
		}
		payload = b
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	for attempt := range julesAttempts {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return gjson.Result{}, fmt.Errorf("request: %w", err)
		}
		req.Header.Set("x-goog-api-key", c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("jules %s %s: %w", method, path, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return gjson.Result{}, fmt.Errorf("read body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := time.Second << attempt
			slog.Warn("jules rate limited", "path", path, "attempt", attempt+1, "retry_in", delay)
			if err := c.wait(ctx, delay); err != nil {
				return gjson.Result{}, err
			}
			continue
		case resp.StatusCode >= 300:
			return gjson.Result{}, fmt.Errorf("jules %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return gjson.Parse("{}"), nil
		}
		return gjson.ParseBytes(data), nil
	}
	return gjson.Result{}, fmt.Errorf("jules %s %s: rate limited after %d attempts", method, path, julesAttempts)
}

// CreateSession starts a task against a source and returns the session.
func (c *JulesClient) CreateSession(ctx context.Context, prompt, source, title string) (JulesSession, error) {
	body := map[string]any{
		"prompt": prompt,
		"sourceContext": map[string]any{
			"source":            source,
			"githubRepoContext": map[string]any{"startingBranch": "main"},
		},
		"automationMode": "AUTO_CREATE_PR",
		"title":          title,
	}
	res, err := c.do(ctx, http.MethodPost, "sessions", body)
	if err != nil {
		return JulesSession{}, err
	}
	s := parseSession(res)
	if s.Name == "" {
		return JulesSession{}, errors.New("jules: session response has no name")
	}
	if s.Title == "" {
		s.Title = title
	}
	return s, nil
}

func (c *JulesClient) SendMessage(ctx context.Context, sessionID, message string) error {
	_, err := c.do(ctx, http.MethodPost, SessionName(sessionID)+":sendMessage", map[string]string{"prompt": message})
	return err
}

func (c *JulesClient) ListSessions(ctx context.Context) ([]JulesSession, error) {
	res, err := c.do(ctx, http.MethodGet, "sessions", nil)
	if err != nil {
		return nil, err
	}
	var out []JulesSession
	for _, s := range res.Get("sessions").Array() {
		out = append(out, parseSession(s))
	}
	return out, nil
}

// ListSources returns the raw source objects.
func (c *JulesClient) ListSources(ctx context.Context) ([]any, error) {
	res, err := c.do(ctx, http.MethodGet, "sources", nil)
	if err != nil {
		return nil, err
	}
	if !res.Get("sources").Exists() {
		return nil, errors.New("jules: no sources in response")
	}
	return toSlice(res.Get("sources")), nil
}

// ListActivities returns the raw activity objects of a session.
func (c *JulesClient) ListActivities(ctx context.Context, sessionID string) ([]any, error) {
	res, err := c.do(ctx, http.MethodGet, SessionName(sessionID)+"/activities", nil)
	if err != nil {
		return nil, err
	}
	return toSlice(res.Get("activities")), nil
}

// ListJobs adapts the session listing for a Monitor.
func (c *JulesClient) ListJobs(ctx context.Context) ([]Status, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Status{ID: s.Name, Title: s.Title, State: s.State, Updated: s.Updated})
	}
	return out, nil
}

// Poll checks a session's activities every interval and relays each new
// one. It returns once the session reports completion or ctx ends.
func (c *JulesClient) Poll(ctx context.Context, sessionID string, interval time.Duration, relay func(ctx context.Context, text string)) error {
	name := SessionName(sessionID)
	seen := 0
	for {
		res, err := c.do(ctx, http.MethodGet, name+"/activities", nil)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			slog.Warn("jules poll failed", "session_id", name, "error", err)
		default:
			activities := res.Get("activities").Array()
			if len(activities) < seen {
				seen = 0
			}
			for _, a := range activities[seen:] {
				text, done := DescribeActivity(name, a)
				if text != "" && relay != nil {
					relay(ctx, text)
				}
				if done {
					return nil
				}
			}
			seen = len(activities)
		}
		if err := c.wait(ctx, interval); err != nil {
			return nil
		}
	}
}

// DescribeActivity renders an activity for the user and reports whether
// it ends the session. Unknown activity kinds render as "".
func DescribeActivity(sessionID string, a gjson.Result) (string, bool) {
	if msg := firstString(a, "agentMessaged.agentMessage", "agentMessage.content", "agentMessage"); msg != "" {
		if strings.Contains(strings.ToLower(msg), "feedback") {
			return fmt.Sprintf("Jules is asking for feedback on session %s. Please use the send message functionality to respond.", sessionID), false
		}
		return msg, false
	}
	if a.Get("planGenerated").Exists() || a.Get("plan").Exists() {
		return "Jules has generated a plan.", false
	}
	if a.Get("sessionCompleted").Exists() || a.Get("sessionComplete").Exists() {
		return "Jules has completed the session.", true
	}
	return "", false
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func parseSession(r gjson.Result) JulesSession {
	s := JulesSession{
		Name:  r.Get("name").String(),
		Title: r.Get("title").String(),
		State: r.Get("state").String(),
	}
	if ts := r.Get("updateTime").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			s.Updated = t
		}
	}
	return s
}

func toSlice(r gjson.Result) []any {
	v, ok := r.Value().([]any)
	if !ok {
		return []any{}
	}
	return v
}
