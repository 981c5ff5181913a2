package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/hubenschmidt/livesession/internal/audio"
)

const (
	// PlaybackSampleRate is the rate of model audio.
	PlaybackSampleRate = 24000
	playbackDepth      = 512
)

// AudioSink plays PCM16 mono audio.
type AudioSink interface {
	Write(pcm []byte) error
	// Reset discards audio the sink has buffered but not yet played.
	Reset() error
	Close() error
}

// Playback queues model audio for a sink.
type Playback struct {
	ch   chan []byte
	sink AudioSink
}

func NewPlayback(sink AudioSink) *Playback {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Playback{ch: make(chan []byte, playbackDepth), sink: sink}
}

// Enqueue adds a chunk without blocking. It reports false when full.
func (p *Playback) Enqueue(pcm []byte) bool {
	select {
	case p.ch <- pcm:
		return true
	default:
		return false
	}
}

// Drain drops queued audio and resets the sink. It returns the number of
// chunks dropped.
func (p *Playback) Drain() int {
	n := 0
	for {
		select {
		case <-p.ch:
			n++
		default:
			_ = p.sink.Reset()
			return n
		}
	}
}

func (p *Playback) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pcm := <-p.ch:
			if err := p.sink.Write(pcm); err != nil {
				return fmt.Errorf("playback write: %w", err)
			}
		}
	}
}

func (p *Playback) Close() error { return p.sink.Close() }

type DiscardSink struct{}

func (DiscardSink) Write([]byte) error { return nil }
func (DiscardSink) Reset() error       { return nil }
func (DiscardSink) Close() error       { return nil }

// WAVSink records model audio to a file.
type WAVSink struct {
	w *audio.WAVWriter
}

func NewWAVSink(path string) (*WAVSink, error) {
	w, err := audio.NewWAVWriter(path, PlaybackSampleRate)
	if err != nil {
		return nil, err
	}
	return &WAVSink{w: w}, nil
}

func (s *WAVSink) Write(pcm []byte) error { return s.w.Write(pcm) }
func (s *WAVSink) Reset() error           { return nil }
func (s *WAVSink) Close() error           { return s.w.Close() }

// FFplaySink pipes audio into an ffplay subprocess.
type FFplaySink struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewFFplaySink() (*FFplaySink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay not found in PATH")
	}
	s := &FFplaySink{}
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FFplaySink) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(PlaybackSampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err = s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

func (s *FFplaySink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("ffplay not running")
	}
	_, err := s.stdin.Write(pcm)
	return err
}

func (s *FFplaySink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return s.startLocked()
}

func (s *FFplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *FFplaySink) stopLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
}
