package audio

import (
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter appends mono PCM16 chunks to a WAV file on disk.
type WAVWriter struct {
	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	format *goaudio.Format
}

// NewWAVWriter creates (or truncates) path and writes a mono 16-bit header for sampleRate.
func NewWAVWriter(path string, sampleRate int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav create: %w", err)
	}
	return &WAVWriter{
		f:      f,
		enc:    wav.NewEncoder(f, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

// Write encodes one little-endian PCM16 chunk.
func (w *WAVWriter) Write(pcm []byte) error {
	samples := DecodePCM16(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return os.ErrClosed
	}
	buf := &goaudio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("wav write: %w", err)
	}
	return nil
}

// Close finalizes the header sizes and closes the file.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	w.enc = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
