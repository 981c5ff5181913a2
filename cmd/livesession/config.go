package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/livesession/internal/audio"
	"github.com/hubenschmidt/livesession/internal/env"
)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// maxAudioChannels bounds AUDIO_CHANNELS. The device is opened with that
	// many channels and the first one is kept.
	maxAudioChannels = 8
)

type config struct {
	port         string
	logLevel     string
	geminiAPIKey string
	geminiModel  string
	workspace    string
	startMessage string

	audioInput    string
	audioDevice   string
	audioChannels int
	videoMode     string
	videoDevice   string
	vadConfig     audio.VADConfig

	playback        string
	playbackWAVPath string

	traceDSN string

	julesAPIKey          string
	julesPollInterval    time.Duration
	julesMonitorInterval time.Duration

	trelloAPIKey string
	trelloToken  string
	slackToken   string
	slackChannel string

	cadServiceURL string
	openAIAPIKey  string
	openAIBaseURL string
	writerModel   string
	chromePath    string
	httpPoolSize  int
}

// fileConfig is the optional YAML overlay. Keys mirror the environment
// variable names in lower case.
type fileConfig struct {
	Port                 string  `yaml:"port"`
	LogLevel             string  `yaml:"log_level"`
	GeminiModel          string  `yaml:"gemini_model"`
	WorkspaceRoot        string  `yaml:"workspace_root"`
	StartMessage         string  `yaml:"start_message"`
	AudioInput           string  `yaml:"audio_input"`
	AudioDevice          string  `yaml:"audio_device"`
	AudioChannels        int     `yaml:"audio_channels"`
	VideoMode            string  `yaml:"video_mode"`
	VideoDevice          string  `yaml:"video_device"`
	VADThreshold         float64 `yaml:"vad_threshold"`
	VADSilenceMs         int     `yaml:"vad_silence_ms"`
	Playback             string  `yaml:"playback"`
	PlaybackWAVPath      string  `yaml:"playback_wav_path"`
	TraceDSN             string  `yaml:"trace_dsn"`
	JulesPollInterval    string  `yaml:"jules_poll_interval"`
	JulesMonitorInterval string  `yaml:"jules_monitor_interval"`
	SlackChannelID       string  `yaml:"slack_channel_id"`
	CADServiceURL        string  `yaml:"cad_service_url"`
	OpenAIBaseURL        string  `yaml:"openai_base_url"`
	WriterModel          string  `yaml:"writer_model"`
	ChromePath           string  `yaml:"chrome_path"`
	HTTPPoolSize         int     `yaml:"http_pool_size"`
}

func defaultConfig() config {
	return config{
		port:                 "8000",
		logLevel:             "info",
		geminiModel:          defaultModel,
		workspace:            ".",
		audioInput:           "ffmpeg",
		audioChannels:        1,
		videoMode:            "camera",
		vadConfig:            audio.DefaultVADConfig(),
		playback:             "ffplay",
		julesPollInterval:    time.Minute,
		julesMonitorInterval: 10 * time.Minute,
		writerModel:          "gpt-4o-mini",
		httpPoolSize:         16,
	}
}

// loadConfig layers defaults, the YAML file at path (if any) and the
// environment, in that order.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := cfg.overlay(path); err != nil {
			return config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

func (c *config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setStr(&c.port, f.Port)
	setStr(&c.logLevel, f.LogLevel)
	setStr(&c.geminiModel, f.GeminiModel)
	setStr(&c.workspace, f.WorkspaceRoot)
	setStr(&c.startMessage, f.StartMessage)
	setStr(&c.audioInput, f.AudioInput)
	setStr(&c.audioDevice, f.AudioDevice)
	setStr(&c.videoMode, f.VideoMode)
	setStr(&c.videoDevice, f.VideoDevice)
	setStr(&c.playback, f.Playback)
	setStr(&c.playbackWAVPath, f.PlaybackWAVPath)
	setStr(&c.traceDSN, f.TraceDSN)
	setStr(&c.slackChannel, f.SlackChannelID)
	setStr(&c.cadServiceURL, f.CADServiceURL)
	setStr(&c.openAIBaseURL, f.OpenAIBaseURL)
	setStr(&c.writerModel, f.WriterModel)
	setStr(&c.chromePath, f.ChromePath)
	if f.VADThreshold > 0 {
		c.vadConfig.Threshold = f.VADThreshold
	}
	if f.VADSilenceMs > 0 {
		c.vadConfig.SilenceTimeout = time.Duration(f.VADSilenceMs) * time.Millisecond
	}
	if f.AudioChannels > 0 {
		c.audioChannels = f.AudioChannels
	}
	if f.HTTPPoolSize > 0 {
		c.httpPoolSize = f.HTTPPoolSize
	}
	for _, d := range []struct {
		dst *time.Duration
		raw string
	}{{&c.julesPollInterval, f.JulesPollInterval}, {&c.julesMonitorInterval, f.JulesMonitorInterval}} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		*d.dst = v
	}
	return nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyEnv lets the environment override everything. Secrets are read
// from the environment only.
func (c *config) applyEnv() {
	c.port = env.Str("PORT", c.port)
	c.logLevel = env.Str("LOG_LEVEL", c.logLevel)
	c.geminiAPIKey = env.Str("GEMINI_API_KEY", c.geminiAPIKey)
	c.geminiModel = env.Str("GEMINI_MODEL", c.geminiModel)
	c.workspace = env.Str("WORKSPACE_ROOT", c.workspace)
	c.startMessage = env.Str("START_MESSAGE", c.startMessage)

	c.audioInput = strings.ToLower(env.Str("AUDIO_INPUT", c.audioInput))
	c.audioDevice = env.Str("AUDIO_DEVICE", c.audioDevice)
	c.audioChannels = env.Int("AUDIO_CHANNELS", c.audioChannels)
	c.videoMode = strings.ToLower(env.Str("VIDEO_MODE", c.videoMode))
	c.videoDevice = env.Str("VIDEO_DEVICE", c.videoDevice)
	c.vadConfig.Threshold = env.Float("VAD_THRESHOLD", c.vadConfig.Threshold)
	c.vadConfig.SilenceTimeout = time.Duration(env.Int("VAD_SILENCE_MS", int(c.vadConfig.SilenceTimeout/time.Millisecond))) * time.Millisecond

	c.playback = strings.ToLower(env.Str("PLAYBACK", c.playback))
	c.playbackWAVPath = env.Str("PLAYBACK_WAV_PATH", c.playbackWAVPath)
	c.traceDSN = env.Str("TRACE_DSN", c.traceDSN)

	c.julesAPIKey = env.Str("JULES_API_KEY", c.julesAPIKey)
	c.julesPollInterval = env.Duration("JULES_POLL_INTERVAL", c.julesPollInterval)
	c.julesMonitorInterval = env.Duration("JULES_MONITOR_INTERVAL", c.julesMonitorInterval)

	c.trelloAPIKey = env.Str("TRELLO_API_KEY", c.trelloAPIKey)
	c.trelloToken = env.Str("TRELLO_TOKEN", c.trelloToken)
	c.slackToken = env.Str("SLACK_BOT_TOKEN", c.slackToken)
	c.slackChannel = env.Str("SLACK_CHANNEL_ID", c.slackChannel)

	c.cadServiceURL = env.Str("CAD_SERVICE_URL", c.cadServiceURL)
	c.openAIAPIKey = env.Str("OPENAI_API_KEY", c.openAIAPIKey)
	c.openAIBaseURL = env.Str("OPENAI_BASE_URL", c.openAIBaseURL)
	c.writerModel = env.Str("WRITER_MODEL", c.writerModel)
	c.chromePath = env.Str("CHROME_PATH", c.chromePath)
	c.httpPoolSize = env.Int("HTTP_POOL_SIZE", c.httpPoolSize)
}

func (c config) validate() error {
	var errs []error
	switch c.audioInput {
	case "ffmpeg", "ws", "none":
	default:
		errs = append(errs, fmt.Errorf("AUDIO_INPUT: unknown mode %q", c.audioInput))
	}
	if c.audioChannels < 1 || c.audioChannels > maxAudioChannels {
		errs = append(errs, fmt.Errorf("AUDIO_CHANNELS: %d outside 1..%d", c.audioChannels, maxAudioChannels))
	}
	switch c.videoMode {
	case "camera", "none":
	default:
		errs = append(errs, fmt.Errorf("VIDEO_MODE: unknown mode %q", c.videoMode))
	}
	switch c.playback {
	case "ffplay", "none":
	case "wav":
		if c.playbackWAVPath == "" {
			errs = append(errs, errors.New("PLAYBACK=wav needs PLAYBACK_WAV_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("PLAYBACK: unknown mode %q", c.playback))
	}
	return errors.Join(errs...)
}

func (c config) slogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.logLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
