package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/livesession/internal/jobs"
	"github.com/hubenschmidt/livesession/internal/live"
	"github.com/hubenschmidt/livesession/internal/project"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.port)
	assert.Equal(t, defaultModel, cfg.geminiModel)
	assert.Equal(t, time.Minute, cfg.julesPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.julesMonitorInterval)
	assert.InDelta(t, 800, cfg.vadConfig.Threshold, 0)
	assert.Equal(t, 1, cfg.audioChannels)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livesession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
audio_input: ws
audio_channels: 2
vad_silence_ms: 750
jules_poll_interval: 30s
playback: none
`), 0o644))
	t.Setenv("PORT", "9100")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.port, "env wins over the file")
	assert.Equal(t, "ws", cfg.audioInput)
	assert.Equal(t, 2, cfg.audioChannels)
	assert.Equal(t, 750*time.Millisecond, cfg.vadConfig.SilenceTimeout)
	assert.Equal(t, 30*time.Second, cfg.julesPollInterval)
	assert.Equal(t, "none", cfg.playback)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("AUDIO_INPUT", "tape")
	t.Setenv("PLAYBACK", "wav")
	t.Setenv("AUDIO_CHANNELS", "0")
	_, err := loadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIO_INPUT")
	assert.Contains(t, err.Error(), "AUDIO_CHANNELS")
	assert.Contains(t, err.Error(), "PLAYBACK_WAV_PATH")
}

func TestPrintTools_ListsEveryDeclaredTool(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTools(&out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 33)
	assert.Regexp(t, `^trello_delete_card\s+sync\s+yes`, findLine(lines, "trello_delete_card"))
	assert.Regexp(t, `^run_jules_agent\s+background\s`, findLine(lines, "run_jules_agent"))
	assert.Regexp(t, `^switch_project\s+local\s`, findLine(lines, "switch_project"))
}

func findLine(lines []string, prefix string) string {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix+" ") {
			return l
		}
	}
	return ""
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	pm, err := project.Open(t.TempDir())
	require.NoError(t, err)
	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler: http.NotFoundHandler(),
		sup:       live.NewSupervisor(live.Config{}),
		projects:  pm,
		jobs:      jobs.NewRegistry(),
	})
	return mux
}

func TestRoutes(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, live.StateIdle, status["state"])
	assert.Equal(t, project.Temp, status["project"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/traces/sessions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=5&offset=abc", nil)
	assert.Equal(t, 5, queryInt(r, "limit", 20))
	assert.Equal(t, 0, queryInt(r, "offset", 0))
	assert.Equal(t, 7, queryInt(r, "missing", 7))
}
