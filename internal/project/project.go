package project

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/livesession/internal/prompts"
)

const (
	Temp = "temp"

	DefaultVoice = "Sadaltager"

	configFile  = "config.json"
	historyFile = "chat_history.jsonl"
	jobsFile    = "jules_sessions.json"
)

var (
	ErrExists      = errors.New("project already exists")
	ErrNotFound    = errors.New("project does not exist")
	ErrInvalidName = errors.New("invalid project name")
	ErrOutside     = errors.New("path escapes the project")
)

// Config is a project's config.json. Unknown keys survive updates.
type Config struct {
	SystemPrompt string `json:"system_prompt"`
	JulesAPIKey  string `json:"jules_api_key"`
	VoiceName    string `json:"voice_name"`
	TimeFormat   string `json:"time_format,omitempty"`
}

// ChatEntry is one line of chat_history.jsonl.
type ChatEntry struct {
	Timestamp float64 `json:"timestamp"`
	Sender    string  `json:"sender"`
	Text      string  `json:"text"`
}

// JobSession is a remote job started from this project.
type JobSession struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Timestamp float64 `json:"timestamp"`
}

// Manager owns the projects directory and the active project. All file
// operations resolve against the active project at call time.
type Manager struct {
	dir string
	now func() time.Time

	mu      sync.RWMutex
	current string
}

// Sanitize keeps letters, digits, space, '-' and '_' and trims the result.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == ' ' || r == '-' || r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Open prepares <workspace>/projects, backfills missing configs and
// recreates an empty temp project as the active one.
func Open(workspace string) (*Manager, error) {
	m := &Manager{dir: filepath.Join(workspace, "projects"), now: time.Now, current: Temp}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("projects dir: %w", err)
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read projects: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(m.dir, e.Name(), configFile)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			slog.Info("creating default project config", "project", e.Name())
			if err := writeJSON(p, defaultConfigMap()); err != nil {
				return nil, err
			}
		}
	}
	if err := os.RemoveAll(filepath.Join(m.dir, Temp)); err != nil {
		return nil, fmt.Errorf("clear temp project: %w", err)
	}
	if _, err := m.Create(Temp); err != nil {
		return nil, err
	}
	return m, nil
}

func defaultConfigMap() map[string]any {
	return map[string]any{
		"system_prompt": prompts.DefaultPersona,
		"jules_api_key": "",
		"voice_name":    DefaultVoice,
	}
}

// Create makes a project with cad/ and browser/ folders and a default
// config. It does not switch to it.
func (m *Manager) Create(name string) (string, error) {
	safe := Sanitize(name)
	if safe == "" {
		return "", ErrInvalidName
	}
	p := filepath.Join(m.dir, safe)
	if _, err := os.Stat(p); err == nil {
		return safe, ErrExists
	}
	for _, sub := range []string{"cad", "browser"} {
		if err := os.MkdirAll(filepath.Join(p, sub), 0o755); err != nil {
			return "", fmt.Errorf("create project %s: %w", safe, err)
		}
	}
	if err := writeJSON(filepath.Join(p, configFile), defaultConfigMap()); err != nil {
		return "", err
	}
	slog.Info("project created", "project", safe)
	return safe, nil
}

func (m *Manager) Switch(name string) (string, error) {
	safe := Sanitize(name)
	if safe == "" {
		return "", ErrInvalidName
	}
	info, err := os.Stat(filepath.Join(m.dir, safe))
	if err != nil || !info.IsDir() {
		return safe, ErrNotFound
	}
	m.mu.Lock()
	m.current = safe
	m.mu.Unlock()
	slog.Info("project switched", "project", safe)
	return safe, nil
}

func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Path is the active project's directory.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, m.Current())
}

// Resolve maps a path given by the model onto the active project. Paths
// that would leave the project are rejected.
func (m *Manager) Resolve(rel string) (string, error) {
	root := m.Path()
	clean := filepath.Clean(filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(rel, "/"))))
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, ErrOutside)
	}
	return clean, nil
}

func (m *Manager) rawConfig() (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(m.Path(), configFile))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("project config unreadable, using defaults", "project", m.Current(), "error", err)
		return map[string]any{}, nil
	}
	return raw, nil
}

// Config reads the active project's config, filling defaults for missing
// fields.
func (m *Manager) Config() (Config, error) {
	raw, err := m.rawConfig()
	if err != nil {
		return Config{}, err
	}
	b, _ := json.Marshal(raw)
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = prompts.DefaultPersona
	}
	if c.VoiceName == "" {
		c.VoiceName = DefaultVoice
	}
	if c.TimeFormat == "" {
		c.TimeFormat = "12h"
	}
	return c, nil
}

// UpdateConfig merges patch into the active project's config.json.
func (m *Manager) UpdateConfig(patch map[string]any) error {
	raw, err := m.rawConfig()
	if err != nil {
		return err
	}
	for k, v := range patch {
		raw[k] = v
	}
	return writeJSON(filepath.Join(m.Path(), configFile), raw)
}

func (m *Manager) SetTimeFormat(format string) error {
	if format != "12h" && format != "24h" {
		return fmt.Errorf("invalid time format %q: use '12h' or '24h'", format)
	}
	return m.UpdateConfig(map[string]any{"time_format": format})
}

// Append records one chat turn in the active project's history.
func (m *Manager) Append(sender, text string) error {
	line, err := json.Marshal(ChatEntry{
		Timestamp: float64(m.now().UnixMilli()) / 1000,
		Sender:    sender,
		Text:      text,
	})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(m.Path(), historyFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// RecentHistory returns the last n parseable history entries.
func (m *Manager) RecentHistory(n int) ([]ChatEntry, error) {
	f, err := os.Open(filepath.Join(m.Path(), historyFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var all []ChatEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e ChatEntry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			all = append(all, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// SaveJobSession records or retitles a remote job in jules_sessions.json.
func (m *Manager) SaveJobSession(id, title string) error {
	sessions, err := m.JobSessions()
	if err != nil {
		return err
	}
	found := false
	for i := range sessions {
		if sessions[i].ID == id {
			sessions[i].Title = title
			found = true
			break
		}
	}
	if !found {
		sessions = append(sessions, JobSession{ID: id, Title: title, Timestamp: float64(m.now().Unix())})
	}
	return writeJSON(filepath.Join(m.Path(), jobsFile), sessions)
}

func (m *Manager) JobSessions() ([]JobSession, error) {
	data, err := os.ReadFile(filepath.Join(m.Path(), jobsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job sessions: %w", err)
	}
	var out []JobSession
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode job sessions: %w", err)
	}
	return out, nil
}

// SaveArtifact writes data under a subfolder of the active project and
// returns the written path.
func (m *Manager) SaveArtifact(sub, name string, data []byte) (string, error) {
	dir := filepath.Join(m.Path(), sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}
	p := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return p, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
