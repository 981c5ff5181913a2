package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/livesession/internal/jobs"
	"github.com/hubenschmidt/livesession/internal/project"
	"github.com/hubenschmidt/livesession/internal/tools"
)

// JulesConfig wires the Jules tools.
type JulesConfig struct {
	// Base bounds polling jobs; it should live as long as the process.
	Base     context.Context
	Projects *project.Manager
	Jobs     *jobs.Registry
	Notifier tools.Notifier
	Client   *http.Client
	// APIKey is used when the active project has no jules_api_key.
	APIKey       string
	PollInterval time.Duration
	BaseURL      string
}

// Jules exposes the Jules coding agent as tools and keeps one poller per
// session it started or was asked about.
type Jules struct {
	cfg JulesConfig
}

func NewJules(cfg JulesConfig) *Jules {
	if cfg.Base == nil {
		cfg.Base = context.Background()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Jules{cfg: cfg}
}

func (j *Jules) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:    "run_jules_agent",
			Shape:   tools.Background,
			Handler: j.run,
			Ack: func(args tools.Args) string {
				if strings.TrimSpace(args.String("source")) == "" {
					return "Fetching available Jules sources. I will notify you shortly."
				}
				return "Jules task starting. I will notify you once the session is created."
			},
			Notice: tools.NoticeText("Failed to start Jules task."),
		},
		{Name: "send_jules_feedback", Shape: tools.Sync, Handler: j.feedback},
		{Name: "list_jules_sources", Shape: tools.Sync, Handler: j.listSources},
		{Name: "list_jules_sessions", Shape: tools.Sync, Handler: j.listSessions},
		{Name: "list_jules_activities", Shape: tools.Sync, Handler: j.listActivities},
	}
}

// client builds a client for the active project's key.
func (j *Jules) client() *jobs.JulesClient {
	key := j.cfg.APIKey
	if j.cfg.Projects != nil {
		if cfg, err := j.cfg.Projects.Config(); err == nil && cfg.JulesAPIKey != "" {
			key = cfg.JulesAPIKey
		}
	}
	c := jobs.NewJulesClient(key, j.cfg.Client)
	if j.cfg.BaseURL != "" {
		c.WithBaseURL(j.cfg.BaseURL)
	}
	return c
}

// ListJobs lets a jobs.Monitor watch every Jules session.
func (j *Jules) ListJobs(ctx context.Context) ([]jobs.Status, error) {
	return j.client().ListJobs(ctx)
}

func sourceNames(sources []any) []string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		if m, ok := s.(map[string]any); ok {
			if n, ok := m["name"].(string); ok {
				names = append(names, n)
			}
		}
	}
	return names
}

func (j *Jules) run(ctx context.Context, args tools.Args) (tools.Result, error) {
	c := j.client()
	prompt, source := args.String("prompt"), strings.TrimSpace(args.String("source"))

	if source == "" {
		sources, err := c.ListSources(ctx)
		if err != nil {
			slog.Warn("jules sources failed", "error", err)
			return tools.Text("Failed to fetch Jules sources."), nil
		}
		return tools.Text(fmt.Sprintf("Available Jules sources:\n%s\n\nPlease ask the user to select one.",
			strings.Join(sourceNames(sources), "\n"))), nil
	}

	short := prompt
	if len(short) > 50 {
		short = short[:50]
	}
	title := "Jules: " + short
	s, err := c.CreateSession(ctx, prompt, source, title)
	if err != nil {
		return tools.Result{}, fmt.Errorf("create jules session: %w", err)
	}
	if s.Title != "" {
		title = s.Title
	}
	if j.cfg.Projects != nil {
		if err := j.cfg.Projects.SaveJobSession(s.Name, title); err != nil {
			slog.Warn("jules session not saved", "session_id", s.Name, "error", err)
		}
	}
	j.watch(c, s.Name, title)
	return tools.Text(fmt.Sprintf("Jules session created: '%s'", title)), nil
}

// watch starts a poller for a session unless one is running.
func (j *Jules) watch(c *jobs.JulesClient, name, title string) bool {
	if j.cfg.Jobs == nil {
		return false
	}
	return j.cfg.Jobs.Start(j.cfg.Base, name, title, func(ctx context.Context) error {
		return c.Poll(ctx, name, j.cfg.PollInterval, j.relay)
	})
}

func (j *Jules) relay(ctx context.Context, text string) {
	if j.cfg.Notifier == nil {
		return
	}
	if err := j.cfg.Notifier.Notify(ctx, text, false); err != nil {
		slog.Warn("jules relay failed", "error", err)
	}
}

func (j *Jules) feedback(ctx context.Context, args tools.Args) (tools.Result, error) {
	c := j.client()
	name := jobs.SessionName(args.String("session_id"))
	if err := c.SendMessage(ctx, name, args.String("feedback")); err != nil {
		slog.Warn("jules feedback failed", "session_id", name, "error", err)
		return tools.Text("Failed to send feedback."), nil
	}
	if j.cfg.Jobs != nil && !j.cfg.Jobs.Has(name) {
		j.watch(c, name, name)
	}
	return tools.Text("Feedback sent successfully."), nil
}

func (j *Jules) listSources(ctx context.Context, _ tools.Args) (tools.Result, error) {
	sources, err := j.client().ListSources(ctx)
	if err != nil {
		slog.Warn("jules sources failed", "error", err)
		return tools.Text("Failed to list Jules sources."), nil
	}
	return tools.Result{Value: sources}, nil
}

func (j *Jules) listSessions(context.Context, tools.Args) (tools.Result, error) {
	var sessions []project.JobSession
	if j.cfg.Projects != nil {
		s, err := j.cfg.Projects.JobSessions()
		if err != nil {
			return tools.Result{}, err
		}
		sessions = s
	}
	if len(sessions) == 0 {
		return tools.Text("No Jules sessions found in local memory for this project."), nil
	}
	return tools.Result{Value: sessions}, nil
}

func (j *Jules) listActivities(ctx context.Context, args tools.Args) (tools.Result, error) {
	acts, err := j.client().ListActivities(ctx, args.String("session_id"))
	if err != nil {
		slog.Warn("jules activities failed", "error", err)
		return tools.Text("Failed to list Jules activities."), nil
	}
	return tools.Result{Value: acts}, nil
}
