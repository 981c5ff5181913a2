package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/livesession/internal/prompts"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"My Project":    "My Project",
		"  spaced  ":    "spaced",
		"../../etc":     "etc",
		"a/b:c*d":       "abcd",
		"under_score-1": "under_score-1",
		"!!!":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), in)
	}
}

func TestOpen_RecreatesTempAndBackfillsConfig(t *testing.T) {
	ws := t.TempDir()
	projects := filepath.Join(ws, "projects")
	require.NoError(t, os.MkdirAll(filepath.Join(projects, "temp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projects, "temp", "stale.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(projects, "legacy"), 0o755))

	m, err := Open(ws)
	require.NoError(t, err)
	assert.Equal(t, Temp, m.Current())
	assert.NoFileExists(t, filepath.Join(projects, "temp", "stale.txt"))
	assert.DirExists(t, filepath.Join(projects, "temp", "cad"))
	assert.DirExists(t, filepath.Join(projects, "temp", "browser"))
	assert.FileExists(t, filepath.Join(projects, "legacy", "config.json"))

	cfg, err := m.Config()
	require.NoError(t, err)
	assert.Equal(t, prompts.DefaultPersona, cfg.SystemPrompt)
	assert.Equal(t, DefaultVoice, cfg.VoiceName)
	assert.Equal(t, "12h", cfg.TimeFormat)
}

func TestCreateSwitchList(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)

	name, err := m.Create("Robot Arm!")
	require.NoError(t, err)
	assert.Equal(t, "Robot Arm", name)
	assert.Equal(t, Temp, m.Current(), "create does not switch")

	_, err = m.Create("Robot Arm")
	assert.ErrorIs(t, err, ErrExists)
	_, err = m.Create("???")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = m.Switch("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Switch("Robot Arm")
	require.NoError(t, err)
	assert.Equal(t, "Robot Arm", m.Current())

	list, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Robot Arm", "temp"}, list)
}

func TestUpdateConfigKeepsUnknownKeys(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.UpdateConfig(map[string]any{"mode": "writing", "voice_name": "Puck"}))
	require.NoError(t, m.SetTimeFormat("24h"))
	assert.Error(t, m.SetTimeFormat("13h"))

	cfg, err := m.Config()
	require.NoError(t, err)
	assert.Equal(t, "Puck", cfg.VoiceName)
	assert.Equal(t, "24h", cfg.TimeFormat)

	raw, err := m.rawConfig()
	require.NoError(t, err)
	assert.Equal(t, "writing", raw["mode"])
}

func TestHistory(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	m.now = func() time.Time { return time.UnixMilli(1_700_000_000_500) }

	hist, err := m.RecentHistory(10)
	require.NoError(t, err)
	assert.Empty(t, hist)

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, m.Append("User", s))
	}
	f, err := os.OpenFile(filepath.Join(m.Path(), historyFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("not json\n")
	require.NoError(t, f.Close())

	hist, err = m.RecentHistory(2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].Text)
	assert.Equal(t, "three", hist[1].Text)
	assert.InDelta(t, 1_700_000_000.5, hist[1].Timestamp, 0.001)
}

func TestJobSessions(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.SaveJobSession("sessions/1", "first"))
	require.NoError(t, m.SaveJobSession("sessions/2", "second"))
	require.NoError(t, m.SaveJobSession("sessions/1", "renamed"))

	got, err := m.JobSessions()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "renamed", got[0].Title)
	assert.Equal(t, "sessions/2", got[1].ID)
}

func TestResolveStaysInsideProject(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)

	p, err := m.Resolve("notes/todo.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Path(), "notes", "todo.txt"), p)

	p, err = m.Resolve("/abs.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Path(), "abs.txt"), p)

	_, err = m.Resolve("../other/config.json")
	assert.ErrorIs(t, err, ErrOutside)
}

func TestSaveArtifact(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	p, err := m.SaveArtifact("cad", "../model.stl", []byte("solid"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Path(), "cad", "model.stl"), p)
}
