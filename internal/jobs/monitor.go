package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Status is one job as reported by the remote service.
type Status struct {
	ID      string
	Title   string
	State   string
	Updated time.Time
}

// Lister reports the jobs the remote service knows about.
type Lister interface {
	ListJobs(ctx context.Context) ([]Status, error)
}

// Notice is a state change worth telling the user about.
type Notice struct {
	Status
	Previous string
}

// Tracker reports whether a job already has its own poller.
type Tracker interface {
	Has(id string) bool
}

// MonitorConfig wires a Monitor.
type MonitorConfig struct {
	Lister   Lister
	Tracked  Tracker
	Interval time.Duration
	// Label names jobs in notice text, e.g. "Jules task".
	Label   string
	Deliver func(ctx context.Context, n Notice, text string)
	Clock   func() time.Time
}

// Monitor polls the remote job list and reports state changes for jobs
// nobody is polling locally, once per change.
type Monitor struct {
	cfg     MonitorConfig
	started time.Time

	mu   sync.Mutex
	seen map[string]string
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Label == "" {
		cfg.Label = "Task"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Monitor{cfg: cfg, started: cfg.Clock(), seen: make(map[string]string)}
}

func terminal(state string) bool {
	return state == "COMPLETED" || state == "FAILED"
}

func attention(state string) bool {
	return strings.HasPrefix(state, "AWAITING_")
}

// Observe folds one listing into the monitor's memory and returns the
// notices it produces.
func (m *Monitor) Observe(statuses []Status) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	var notices []Notice
	present := make(map[string]struct{}, len(statuses))
	for _, st := range statuses {
		present[st.ID] = struct{}{}
		prev, known := m.seen[st.ID]
		m.seen[st.ID] = st.State
		if m.cfg.Tracked != nil && m.cfg.Tracked.Has(st.ID) {
			continue
		}
		if known {
			if prev != st.State {
				notices = append(notices, Notice{Status: st, Previous: prev})
			}
			continue
		}
		if !terminal(st.State) && !attention(st.State) {
			continue
		}
		if !st.Updated.IsZero() && st.Updated.Before(m.started) {
			continue
		}
		notices = append(notices, Notice{Status: st})
	}
	for id := range m.seen {
		if _, ok := present[id]; !ok {
			delete(m.seen, id)
		}
	}
	return notices
}

// Text renders a notice for the user.
func (m *Monitor) Text(n Notice) string {
	title := n.Title
	if title == "" {
		title = n.ID
	}
	return fmt.Sprintf("%s '%s' has moved to %s.", m.cfg.Label, title, n.State)
}

// Poll lists jobs once and delivers the resulting notices.
func (m *Monitor) Poll(ctx context.Context) error {
	statuses, err := m.cfg.Lister.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, n := range m.Observe(statuses) {
		if m.cfg.Deliver != nil {
			m.cfg.Deliver(ctx, n, m.Text(n))
		}
	}
	return nil
}

// Run polls on the configured interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("job monitor poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
