package audio

import "time"

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	// Threshold is the RMS level, on the int16 scale, above which a chunk counts as speech.
	Threshold      float64
	SilenceTimeout time.Duration
}

// DefaultVADConfig returns the thresholds tuned for a 16 kHz desktop microphone.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:      800,
		SilenceTimeout: 500 * time.Millisecond,
	}
}

// VAD implements energy-based voice activity detection with a silence hangover.
// It is not safe for concurrent use; one capture unit owns it.
type VAD struct {
	cfg          VADConfig
	now          func() time.Time
	speaking     bool
	silenceStart time.Time
}

// VADResult holds the outcome of one chunk.
type VADResult struct {
	RMS float64
	// Onset is set on the chunk that moved the detector from silence to speech.
	Onset bool
	// Ended is set on the chunk that closed an utterance after the silence timeout.
	Ended bool
}

// NewVAD creates a VAD with the given config. A nil clock uses time.Now.
func NewVAD(cfg VADConfig, clock func() time.Time) *VAD {
	if clock == nil {
		clock = time.Now
	}
	return &VAD{cfg: cfg, now: clock}
}

// Process feeds one mono chunk into the detector.
func (v *VAD) Process(samples []int16) VADResult {
	rms := RMS(samples)
	if rms > v.cfg.Threshold {
		return v.handleSpeech(rms)
	}
	return v.handleSilence(rms)
}

func (v *VAD) handleSpeech(rms float64) VADResult {
	v.silenceStart = time.Time{}
	if v.speaking {
		return VADResult{RMS: rms}
	}
	v.speaking = true
	return VADResult{RMS: rms, Onset: true}
}

func (v *VAD) handleSilence(rms float64) VADResult {
	if !v.speaking {
		return VADResult{RMS: rms}
	}
	now := v.now()
	if v.silenceStart.IsZero() {
		v.silenceStart = now
		return VADResult{RMS: rms}
	}
	if now.Sub(v.silenceStart) <= v.cfg.SilenceTimeout {
		return VADResult{RMS: rms}
	}
	v.speaking = false
	v.silenceStart = time.Time{}
	return VADResult{RMS: rms, Ended: true}
}

// Speaking reports whether an utterance is in progress.
func (v *VAD) Speaking() bool {
	return v.speaking
}

// Reset returns the detector to silence.
func (v *VAD) Reset() {
	v.speaking = false
	v.silenceStart = time.Time{}
}
