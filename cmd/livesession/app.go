package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/integrations"
	"github.com/hubenschmidt/livesession/internal/jobs"
	"github.com/hubenschmidt/livesession/internal/live"
	"github.com/hubenschmidt/livesession/internal/project"
	"github.com/hubenschmidt/livesession/internal/prompts"
	"github.com/hubenschmidt/livesession/internal/tools"
	"github.com/hubenschmidt/livesession/internal/trace"
	"github.com/hubenschmidt/livesession/internal/ws"
)

const (
	// historyTurns is how many past utterances are replayed into the
	// system prompt on connect.
	historyTurns = 20

	noticeDurationMs = 20000
	httpTimeout      = 30 * time.Second
	shutdownTimeout  = 15 * time.Second
)

// app owns every long-lived component of one process.
type app struct {
	cfg config

	bus        *eventbus.Bus
	projects   *project.Manager
	catalog    *tools.Catalog
	registry   *tools.Registry
	broker     *tools.Broker
	dispatcher *tools.Dispatcher
	jobs       *jobs.Registry
	sup        *live.Supervisor
	playback   *live.Playback
	mic        *capture.VirtualMic
	traceStore *trace.Store

	timers  *integrations.Timers
	slack   *integrations.Slack
	monitor *jobs.Monitor
	ui      *ws.Handler
}

func newApp(ctx context.Context, cfg config) (*app, error) {
	a := &app{
		cfg:      cfg,
		bus:      eventbus.New(0),
		registry: tools.NewRegistry(),
		broker:   tools.NewBroker(),
		jobs:     jobs.NewRegistry(),
	}

	var err error
	if a.projects, err = project.Open(cfg.workspace); err != nil {
		return nil, err
	}
	if a.catalog, err = tools.LoadCatalog(); err != nil {
		return nil, err
	}
	if cfg.traceDSN != "" {
		if a.traceStore, err = trace.Open(cfg.traceDSN); err != nil {
			return nil, fmt.Errorf("trace store: %w", err)
		}
		slog.Info("tracing enabled")
	}

	dialer, err := live.NewGeminiDialer(ctx, cfg.geminiAPIKey, cfg.geminiModel)
	if err != nil {
		return nil, err
	}
	a.playback = live.NewPlayback(a.playbackSink())

	a.dispatcher = tools.NewDispatcher(ctx, a.registry, a.catalog, a.broker)
	supCfg := live.Config{
		Dialer:     dialer,
		Setup:      a.setup,
		VAD:        cfg.vadConfig,
		Dispatcher: a.dispatcher,
		Broker:     a.broker,
		Jobs:       a.jobs,
		Bus:        a.bus,
		Log:        a.projects,
		Playback:   a.playback,
		Trace:      a.traceStore,
		OnConnect:  a.onConnect,
	}
	mic, cam := a.captureSources()
	if mic != nil {
		supCfg.Audio = mic
	}
	if cam != nil {
		supCfg.Video = cam
	}
	a.sup = live.NewSupervisor(supCfg)
	a.dispatcher.SetNotifier(a.sup)
	if cam != nil {
		cam.Paused = a.sup.Paused
	}

	if err := a.registerIntegrations(ctx); err != nil {
		return nil, err
	}
	if err := a.registry.Validate(a.catalog); err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	a.ui = ws.NewHandler(ws.HandlerConfig{
		Bus:     a.bus,
		Broker:  a.broker,
		Control: a.sup,
		Mic:     a.mic,
	})
	return a, nil
}

func (a *app) playbackSink() live.AudioSink {
	switch a.cfg.playback {
	case "ffplay":
		sink, err := live.NewFFplaySink()
		if err != nil {
			slog.Warn("ffplay unavailable, discarding audio", "error", err)
			return live.DiscardSink{}
		}
		return sink
	case "wav":
		sink, err := live.NewWAVSink(a.cfg.playbackWAVPath)
		if err != nil {
			slog.Warn("wav sink unavailable, discarding audio", "path", a.cfg.playbackWAVPath, "error", err)
			return live.DiscardSink{}
		}
		return sink
	}
	return live.DiscardSink{}
}

// captureSources builds the configured audio source and camera. Either may
// be nil.
func (a *app) captureSources() (capture.AudioSource, *capture.Camera) {
	var src capture.AudioSource
	switch a.cfg.audioInput {
	case "ffmpeg":
		m := &capture.Mic{Device: a.cfg.audioDevice, Channels: a.cfg.audioChannels}
		m.Paused = func() bool { return a.sup != nil && a.sup.Paused() }
		src = m
	case "ws":
		a.mic = capture.NewVirtualMic(64)
		a.mic.Paused = func() bool { return a.sup != nil && a.sup.Paused() }
		src = a.mic
	}
	var cam *capture.Camera
	if a.cfg.videoMode == "camera" {
		cam = capture.NewFFmpegCamera(a.cfg.videoDevice, time.Second)
	}
	return src, cam
}

// setup rebuilds the live configuration from the active project.
func (a *app) setup() (live.Setup, error) {
	pc, err := a.projects.Config()
	if err != nil {
		return live.Setup{}, err
	}
	prompt := prompts.ForSession(pc.SystemPrompt)
	history, err := a.projects.RecentHistory(historyTurns)
	if err != nil {
		slog.Warn("chat history unavailable", "project", a.projects.Current(), "error", err)
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		lines = append(lines, h.Sender+": "+h.Text)
	}
	return live.Setup{
		SystemPrompt: prompts.WithHistory(prompt, lines),
		Voice:        pc.VoiceName,
		Tools:        a.catalog.Declarations(),
	}, nil
}

func (a *app) onConnect(first bool) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeProject, Project: a.projects.Current()})
	if first {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: "connected"})
	}
}

func (a *app) registerIntegrations(ctx context.Context) error {
	client := integrations.NewPooledHTTPClient(a.cfg.httpPoolSize, httpTimeout)

	workspace := integrations.NewWorkspace(a.projects, a.bus)
	a.timers = integrations.NewTimers(filepath.Join(a.cfg.workspace, "timers.json"), a.sup)
	if err := a.timers.Load(); err != nil {
		slog.Warn("timers not restored", "error", err)
	}
	a.slack = integrations.NewSlack(a.cfg.slackToken, a.cfg.slackChannel, client)

	var composer integrations.Composer
	if a.cfg.openAIAPIKey != "" {
		composer = integrations.NewAgentComposer(a.cfg.openAIAPIKey, a.cfg.openAIBaseURL, a.cfg.writerModel, 0)
	}

	jules := integrations.NewJules(integrations.JulesConfig{
		Base:         ctx,
		Projects:     a.projects,
		Jobs:         a.jobs,
		Notifier:     a.sup,
		Client:       client,
		APIKey:       a.cfg.julesAPIKey,
		PollInterval: a.cfg.julesPollInterval,
	})
	a.monitor = jobs.NewMonitor(jobs.MonitorConfig{
		Lister:   jules,
		Tracked:  a.jobs,
		Interval: a.cfg.julesMonitorInterval,
		Label:    "Jules task",
		Deliver:  a.deliverJobNotice,
	})

	return registerTools(a.registry,
		workspace,
		a.timers,
		integrations.NewWeather(client),
		integrations.NewDisplay(a.bus),
		a.slack,
		integrations.NewTrello(a.cfg.trelloAPIKey, a.cfg.trelloToken, client),
		integrations.NewCAD(integrations.CADConfig{
			ServiceURL: a.cfg.cadServiceURL,
			Client:     client,
			Workspace:  workspace,
			Projects:   a.projects,
			Bus:        a.bus,
			Notifier:   a.sup,
		}),
		integrations.NewWebAgent(a.cfg.chromePath, a.projects, a.bus),
		integrations.NewWriter(composer, workspace, a.projects),
		jules,
	)
}

// deliverJobNotice fans a remote job change out to the UI, the model and
// Slack.
func (a *app) deliverJobNotice(ctx context.Context, n jobs.Notice, text string) {
	slog.Info("job state changed", "job_id", n.ID, "state", n.State, "previous", n.Previous)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeJob, Job: &eventbus.Job{ID: n.ID, Title: n.Title, State: n.State}})
	a.bus.Notice(text, noticeDurationMs)
	if err := a.sup.Notify(ctx, text, false); err != nil && !errors.Is(err, live.ErrNoSession) {
		slog.Warn("job notice not sent to model", "job_id", n.ID, "error", err)
	}
	a.slack.SendAsync(ctx, text)
}

// run serves HTTP and keeps the live session up until ctx ends or the
// session is stopped.
func (a *app) run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler:  a.ui,
		sup:        a.sup,
		projects:   a.projects,
		jobs:       a.jobs,
		traceStore: a.traceStore,
	})
	srv := &http.Server{Addr: ":" + a.cfg.port, Handler: mux}

	srvErr := make(chan error, 1)
	go func() {
		slog.Info("livesession starting", "addr", srv.Addr, "project", a.projects.Current(), "audio_input", a.cfg.audioInput)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	go func() {
		if err := a.monitor.Run(ctx); err != nil {
			slog.Warn("job monitor stopped", "error", err)
		}
	}()

	supDone := a.sup.Start(ctx, a.cfg.startMessage)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-srvErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-supDone:
		runErr = err
		supDone = nil
	}

	a.sup.Stop()
	if supDone != nil {
		if err := <-supDone; err != nil {
			slog.Warn("supervisor exit", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return runErr
}

func (a *app) close() {
	a.timers.Close()
	a.jobs.CancelAll()
	a.jobs.Wait()
	a.dispatcher.Wait()
	if err := a.playback.Close(); err != nil {
		slog.Warn("playback close", "error", err)
	}
	if a.traceStore != nil {
		if err := a.traceStore.Close(); err != nil {
			slog.Warn("trace store close", "error", err)
		}
	}
	slog.Info("livesession stopped")
}
