package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/livesession/internal/tools"
)

const reminderLayout = "2006-01-02T15:04:05"

type stopper interface{ Stop() bool }

type timerEntry struct {
	Name     string  `json:"name"`
	EndTime  float64 `json:"end_time"`
	Duration int     `json:"duration"`
	t        stopper
}

type reminderEntry struct {
	Name string `json:"name"`
	At   string `json:"reminder_time"`
	t    stopper
}

type timersFile struct {
	Timers    map[string]*timerEntry    `json:"timers"`
	Reminders map[string]*reminderEntry `json:"reminders"`
}

// Timers runs named countdowns and wall-clock reminders, persisted to a
// JSON file so they survive restarts.
type Timers struct {
	path     string
	notifier tools.Notifier
	now      func() time.Time
	after    func(time.Duration, func()) stopper

	mu        sync.Mutex
	timers    map[string]*timerEntry
	reminders map[string]*reminderEntry
}

func NewTimers(path string, n tools.Notifier) *Timers {
	return &Timers{
		path:      path,
		notifier:  n,
		now:       time.Now,
		after:     func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		timers:    make(map[string]*timerEntry),
		reminders: make(map[string]*reminderEntry),
	}
}

func (t *Timers) Tools() []tools.Tool {
	return []tools.Tool{
		{Name: "set_timer", Shape: tools.Sync, Handler: t.setTimer},
		{Name: "set_reminder", Shape: tools.Sync, Handler: t.setReminder},
		{Name: "list_timers", Shape: tools.Sync, Handler: t.listTimers},
		{Name: "modify_timer", Shape: tools.Sync, Handler: t.modifyTimer},
		{Name: "delete_entry", Shape: tools.Sync, Handler: t.deleteEntry},
	}
}

// Load restores entries still in the future and reschedules them.
func (t *Timers) Load() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read timers: %w", err)
	}
	var f timersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode timers: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for name, e := range f.Timers {
		remaining := unixFloat(e.EndTime).Sub(now)
		if remaining <= 0 {
			continue
		}
		e.Name = name
		e.t = t.after(remaining, t.fireTimer(name, e))
		t.timers[name] = e
	}
	for name, e := range f.Reminders {
		at, err := parseReminder(e.At)
		if err != nil {
			slog.Warn("skipping reminder with bad timestamp", "name", name, "error", err)
			continue
		}
		delay := at.Sub(now)
		if delay <= 0 {
			continue
		}
		e.Name = name
		e.t = t.after(delay, t.fireReminder(name, e))
		t.reminders[name] = e
	}
	slog.Info("timers loaded", "timers", len(t.timers), "reminders", len(t.reminders))
	return nil
}

// Close stops every pending entry without firing it.
func (t *Timers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.timers {
		e.t.Stop()
	}
	for _, e := range t.reminders {
		e.t.Stop()
	}
}

func unixFloat(f float64) time.Time {
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}

func parseReminder(s string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return at, nil
	}
	for _, layout := range []string{reminderLayout, "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if at, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// save persists the current entries. Callers hold t.mu.
func (t *Timers) save() {
	b, err := json.Marshal(timersFile{Timers: t.timers, Reminders: t.reminders})
	if err == nil {
		err = os.WriteFile(t.path, b, 0o644)
	}
	if err != nil {
		slog.Warn("timers save failed", "path", t.path, "error", err)
	}
}

func (t *Timers) notify(text string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(context.Background(), text, true); err != nil {
		slog.Warn("timer notification failed", "error", err)
	}
}

func (t *Timers) fireTimer(name string, e *timerEntry) func() {
	return func() {
		t.mu.Lock()
		current, ok := t.timers[name]
		if !ok || current != e {
			t.mu.Unlock()
			return
		}
		delete(t.timers, name)
		t.save()
		t.mu.Unlock()
		t.notify(fmt.Sprintf("Timer '%s' is up!", name))
	}
}

func (t *Timers) fireReminder(name string, e *reminderEntry) func() {
	return func() {
		t.mu.Lock()
		current, ok := t.reminders[name]
		if !ok || current != e {
			t.mu.Unlock()
			return
		}
		delete(t.reminders, name)
		t.save()
		t.mu.Unlock()
		t.notify(fmt.Sprintf("Reminder: '%s'", name))
	}
}

func (t *Timers) taken(name string) bool {
	_, a := t.timers[name]
	_, b := t.reminders[name]
	return a || b
}

func (t *Timers) setTimer(_ context.Context, args tools.Args) (tools.Result, error) {
	name := args.String("name")
	secs, ok := args.Int("duration")
	if !ok || secs <= 0 {
		return tools.Result{}, errors.New("duration must be a positive number of seconds")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taken(name) {
		return tools.Text(fmt.Sprintf("A timer or reminder with the name '%s' already exists.", name)), nil
	}
	d := time.Duration(secs) * time.Second
	e := &timerEntry{Name: name, Duration: secs, EndTime: float64(t.now().Add(d).UnixMilli()) / 1000}
	e.t = t.after(d, t.fireTimer(name, e))
	t.timers[name] = e
	t.save()
	return tools.Text(fmt.Sprintf("Timer '%s' set for %d seconds.", name, secs)), nil
}

func (t *Timers) setReminder(_ context.Context, args tools.Args) (tools.Result, error) {
	name, stamp := args.String("name"), args.String("timestamp")
	at, err := parseReminder(stamp)
	if err != nil {
		return tools.Text("Invalid timestamp format. Please use ISO format (e.g., 'YYYY-MM-DDTHH:MM:SS')."), nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taken(name) {
		return tools.Text(fmt.Sprintf("A timer or reminder with the name '%s' already exists.", name)), nil
	}
	delay := at.Sub(t.now())
	if delay <= 0 {
		return tools.Text("The specified time is in the past."), nil
	}
	e := &reminderEntry{Name: name, At: stamp}
	e.t = t.after(delay, t.fireReminder(name, e))
	t.reminders[name] = e
	t.save()
	return tools.Text(fmt.Sprintf("Reminder '%s' set for %s.", name, stamp)), nil
}

func (t *Timers) modifyTimer(_ context.Context, args tools.Args) (tools.Result, error) {
	name := args.String("name")
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[name]; ok {
		secs, ok := args.Int("new_duration")
		if !ok || secs <= 0 {
			return tools.Text("Please provide a new duration for the timer."), nil
		}
		old.t.Stop()
		d := time.Duration(secs) * time.Second
		e := &timerEntry{Name: name, Duration: secs, EndTime: float64(t.now().Add(d).UnixMilli()) / 1000}
		e.t = t.after(d, t.fireTimer(name, e))
		t.timers[name] = e
		t.save()
		return tools.Text(fmt.Sprintf("Timer '%s' modified to %d seconds.", name, secs)), nil
	}

	if old, ok := t.reminders[name]; ok {
		stamp := args.String("new_timestamp")
		if stamp == "" {
			return tools.Text("Please provide a new timestamp for the reminder."), nil
		}
		at, err := parseReminder(stamp)
		if err != nil {
			return tools.Text("Invalid timestamp format. Please use ISO format (e.g., 'YYYY-MM-DDTHH:MM:SS')."), nil
		}
		delay := at.Sub(t.now())
		if delay <= 0 {
			return tools.Text("The specified time is in the past."), nil
		}
		old.t.Stop()
		e := &reminderEntry{Name: name, At: stamp}
		e.t = t.after(delay, t.fireReminder(name, e))
		t.reminders[name] = e
		t.save()
		return tools.Text(fmt.Sprintf("Reminder '%s' modified to %s.", name, stamp)), nil
	}

	return tools.Text(fmt.Sprintf("No timer or reminder found with the name '%s'.", name)), nil
}

func (t *Timers) listTimers(context.Context, tools.Args) (tools.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString("Active Timers:\n")
	if len(t.timers) == 0 {
		b.WriteString("  - None\n")
	}
	for _, name := range sortedKeys(t.timers) {
		remaining := unixFloat(t.timers[name].EndTime).Sub(t.now())
		fmt.Fprintf(&b, "  - %s: %d seconds remaining\n", name, int(remaining.Seconds()))
	}
	b.WriteString("\nActive Reminders:\n")
	if len(t.reminders) == 0 {
		b.WriteString("  - None\n")
	}
	for _, name := range sortedKeys(t.reminders) {
		fmt.Fprintf(&b, "  - %s: at %s\n", name, t.reminders[name].At)
	}
	return tools.Text(b.String()), nil
}

func (t *Timers) deleteEntry(_ context.Context, args tools.Args) (tools.Result, error) {
	name := args.String("name")
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.timers[name]; ok {
		e.t.Stop()
		delete(t.timers, name)
		t.save()
		return tools.Text(fmt.Sprintf("Timer '%s' deleted.", name)), nil
	}
	if e, ok := t.reminders[name]; ok {
		e.t.Stop()
		delete(t.reminders, name)
		t.save()
		return tools.Text(fmt.Sprintf("Reminder '%s' deleted.", name)), nil
	}
	return tools.Text(fmt.Sprintf("No timer or reminder found with the name '%s'.", name)), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
