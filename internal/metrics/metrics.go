package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_sessions_total",
		Help: "Live connections established",
	})

	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_session_active",
		Help: "1 while a live connection is running",
	})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_reconnects_total",
		Help: "Session teardowns followed by a reconnect",
	}, []string{"reason"})

	OutboundItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_outbound_items_total",
		Help: "Items written to the live stream",
	}, []string{"kind"})

	OutboundWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_outbound_write_errors_total",
		Help: "Failed writes to the live stream",
	})

	SpeechOnsets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_onsets_total",
		Help: "Silence to speech transitions",
	})

	FramesAttached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_frames_attached_total",
		Help: "Camera frames released on speech onset",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_barge_ins_total",
		Help: "Playback drains caused by user speech or server interruption",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tool_calls_total",
		Help: "Tool calls by outcome",
	}, []string{"tool", "outcome"})

	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tool_duration_seconds",
		Help:    "Handler latency per tool",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"tool"})

	ConfirmationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tool_confirmations_pending",
		Help: "Destructive calls waiting on the user",
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobs_active",
		Help: "Background jobs currently tracked",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_notifications_total",
		Help: "System notifications sent to the model",
	}, []string{"outcome"})

	UIClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ui_clients_active",
		Help: "Connected websocket UI clients",
	})
)
