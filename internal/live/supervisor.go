package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hubenschmidt/livesession/internal/audio"
	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/eventbus"
	"github.com/hubenschmidt/livesession/internal/metrics"
	"github.com/hubenschmidt/livesession/internal/trace"
)

const (
	notifyTimeout      = 5 * time.Second
	defaultStableAfter = 30 * time.Second
	notificationPrefix = "System Notification: "
)

// Supervisor lifecycle states.
const (
	StateIdle         = "idle"
	StateConnecting   = "connecting"
	StateRunning      = "running"
	StateReconnecting = "reconnecting"
	StateStopped      = "stopped"
)

var (
	errStop      = errors.New("stop requested")
	errReconnect = errors.New("reconnect requested")
)

// VideoSource keeps a FrameCell fresh until ctx ends.
type VideoSource interface {
	Run(ctx context.Context, cell *capture.FrameCell) error
}

// JobCanceller stops background work on full shutdown.
type JobCanceller interface {
	CancelAll()
}

// ConfirmationDenier resolves pending confirmations as denied.
type ConfirmationDenier interface {
	DenyAll()
}

// Config wires a Supervisor. Dialer, Setup and Dispatcher are required.
type Config struct {
	Dialer Dialer
	// Setup is called before every connect so project switches take effect.
	Setup func() (Setup, error)

	Audio      capture.AudioSource
	Video      VideoSource
	Frames     *capture.FrameCell
	VAD        audio.VADConfig
	Dispatcher Dispatcher
	Broker     ConfirmationDenier
	Jobs       JobCanceller
	Bus        *eventbus.Bus
	Log        TranscriptLog
	Playback   *Playback
	Trace      *trace.Store

	// Backoff paces reconnects. Defaults to 1s doubling up to 10s.
	Backoff backoff.BackOff
	// StableAfter is the uptime after which a session resets the backoff.
	StableAfter time.Duration
	// OnConnect runs after every successful connect.
	OnConnect func(first bool)
	// After is the timer used between attempts.
	After func(time.Duration) <-chan time.Time
	// NotifyTimeout bounds a system notification send. Defaults to 5s.
	NotifyTimeout time.Duration
}

// Supervisor keeps exactly one live session running, reconnecting with
// backoff when it fails.
type Supervisor struct {
	cfg Config

	current   atomic.Pointer[Session]
	gen       atomic.Uint64
	state     atomic.Value
	paused    atomic.Bool
	reconnect chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff()
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = notifyTimeout
	}
	if cfg.Frames == nil {
		cfg.Frames = &capture.FrameCell{}
	}
	if cfg.Playback == nil {
		cfg.Playback = NewPlayback(nil)
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD = audio.DefaultVADConfig()
	}
	s := &Supervisor{
		cfg:       cfg,
		reconnect: make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	s.state.Store(StateIdle)
	return s
}

// NewBackoff returns the reconnect schedule: 1s, 2s, 4s, 8s, then 10s.
func NewBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Start runs the supervisor in the background. The returned channel yields
// Run's result.
func (s *Supervisor) Start(ctx context.Context, initialMessage string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, initialMessage) }()
	return done
}

// Run connects and keeps reconnecting until Stop is called or ctx ends.
// initialMessage is sent once, after the first successful connect.
func (s *Supervisor) Run(ctx context.Context, initialMessage string) error {
	defer s.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	first := true
	s.cfg.Backoff.Reset()
	for {
		s.setState(StateConnecting)
		connected, uptime, err := s.runOnce(ctx, first, initialMessage)
		if connected {
			first = false
		}
		if ctx.Err() != nil || errors.Is(err, errStop) || s.stopping() {
			return nil
		}
		if uptime >= s.cfg.StableAfter {
			s.cfg.Backoff.Reset()
		}

		reason := "crash"
		switch {
		case errors.Is(err, errReconnect):
			reason = "requested"
		case !connected:
			reason = "dial"
		}
		metrics.Reconnects.WithLabelValues(reason).Inc()

		delay := s.cfg.Backoff.NextBackOff()
		s.setState(StateReconnecting)
		s.cfg.Bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: StateReconnecting})
		slog.Warn("live session ended, reconnecting", "reason", reason, "error", err, "delay", delay.String())

		select {
		case <-s.cfg.After(delay):
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, first bool, initialMessage string) (bool, time.Duration, error) {
	setup, err := s.cfg.Setup()
	if err != nil {
		return false, 0, fmt.Errorf("live setup: %w", err)
	}
	stream, err := s.cfg.Dialer.Dial(ctx, setup)
	if err != nil {
		return false, 0, fmt.Errorf("dial: %w", err)
	}

	gen := s.gen.Add(1)
	meta, _ := json.Marshal(map[string]any{"generation": gen})
	tracer := trace.Begin(s.cfg.Trace, string(meta))
	id := tracer.SessionID()
	if id == "" {
		id = uuid.NewString()
	}
	sess := newSession(id, gen, stream)
	log := slog.With("session_id", id, "generation", gen)

	out := NewOutbound(OutboundCapacity)
	gate := NewGate(audio.NewVAD(s.cfg.VAD, nil), s.cfg.Frames, out)
	chat := NewChatBuffer(s.cfg.Log)
	recv := newReceiver(sess, receiverConfig{
		bus:        s.cfg.Bus,
		playback:   s.cfg.Playback,
		dispatcher: s.cfg.Dispatcher,
		chat:       chat,
		tracer:     tracer,
		reconnect:  s.RequestReconnect,
	})

	s.drainReconnect()
	s.current.Store(sess)
	s.setState(StateRunning)
	started := time.Now()
	metrics.SessionsTotal.Inc()
	metrics.SessionActive.Set(1)
	log.Info("live session connected")

	if first {
		if initialMessage != "" {
			if err = sess.send(ctx, func(st Stream) error { return st.SendText(initialMessage, true) }); err != nil {
				log.Warn("initial message failed", "error", err)
			}
		}
	} else {
		s.cfg.Bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: "reconnected"})
	}
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(first)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(critical(gctx, "sender", func() error { return sess.runSender(gctx, out) }))
	g.Go(critical(gctx, "receiver", func() error { return recv.Run(gctx) }))
	g.Go(critical(gctx, "playback", func() error { return s.cfg.Playback.Run(gctx) }))
	if s.cfg.Audio != nil {
		g.Go(optional(gctx, "audio", func() error {
			return s.cfg.Audio.Run(gctx, func(chunk []byte) {
				if err := gate.Handle(gctx, chunk); err != nil && gctx.Err() == nil {
					log.Warn("gate push failed", "error", err)
				}
			})
		}))
	}
	if s.cfg.Video != nil {
		g.Go(optional(gctx, "video", func() error { return s.cfg.Video.Run(gctx, s.cfg.Frames) }))
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-s.stop:
			return errStop
		case <-s.reconnect:
			return errReconnect
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		if s.cfg.Broker != nil {
			s.cfg.Broker.DenyAll()
		}
		sess.close()
		return nil
	})

	err = g.Wait()

	s.current.CompareAndSwap(sess, nil)
	recv.finish(err)
	s.cfg.Playback.Drain()
	tracer.Close()
	metrics.SessionActive.Set(0)
	uptime := time.Since(started)
	log.Info("live session closed", "uptime", uptime.String(), "error", err)
	return true, uptime, err
}

// critical wraps a unit whose exit ends the session.
func critical(ctx context.Context, name string, fn func() error) func() error {
	return func() error {
		err := fn()
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("exited")
		}
		return fmt.Errorf("%s: %w", name, err)
	}
}

// optional wraps a capture unit. Returning nil leaves the session running.
func optional(ctx context.Context, name string, fn func() error) func() error {
	return func() error {
		err := fn()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		slog.Warn("capture unit ended, session degraded", "unit", name)
		return nil
	}
}

// Stop ends the session and the reconnect loop. Background jobs are
// cancelled when Run returns.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Supervisor) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// RequestReconnect tears down the current session and connects again.
func (s *Supervisor) RequestReconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

func (s *Supervisor) drainReconnect() {
	select {
	case <-s.reconnect:
	default:
	}
}

// SetPaused stops or resumes capture.
func (s *Supervisor) SetPaused(paused bool) {
	s.paused.Store(paused)
	status := "resumed"
	if paused {
		status = "paused"
	}
	s.cfg.Bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: status})
}

func (s *Supervisor) Paused() bool { return s.paused.Load() }

func (s *Supervisor) State() string { return s.state.Load().(string) }

// Generation returns the number of connects so far.
func (s *Supervisor) Generation() uint64 { return s.gen.Load() }

func (s *Supervisor) setState(st string) { s.state.Store(st) }

// Notify sends a system notification to the model on the current session.
// It waits at most NotifyTimeout; on timeout only this message is dropped.
func (s *Supervisor) Notify(ctx context.Context, text string, endOfTurn bool) error {
	sess := s.current.Load()
	if sess == nil {
		metrics.Notifications.WithLabelValues("no_session").Inc()
		return ErrNoSession
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	err := sess.send(ctx, func(st Stream) error { return st.SendText(notificationPrefix+text, endOfTurn) })
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		metrics.Notifications.WithLabelValues("timeout").Inc()
		slog.Warn("notification timed out", "session_id", sess.ID)
	default:
		metrics.Notifications.WithLabelValues("error").Inc()
	}
	return fmt.Errorf("notify: %w", err)
}

// SendText sends typed user input as a complete turn.
func (s *Supervisor) SendText(ctx context.Context, text string) error {
	sess := s.current.Load()
	if sess == nil {
		return ErrNoSession
	}
	return sess.send(ctx, func(st Stream) error { return st.SendText(text, true) })
}

func (s *Supervisor) shutdown() {
	s.setState(StateStopped)
	if s.cfg.Jobs != nil {
		s.cfg.Jobs.CancelAll()
	}
	s.cfg.Bus.Publish(eventbus.Event{Type: eventbus.TypeStatus, Status: StateStopped})
	slog.Info("live supervisor stopped")
}
