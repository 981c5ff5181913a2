package live

import (
	"context"
	"errors"
	"sync"

	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/tools"
)

var errBroken = errors.New("stream broken")

type sentText struct {
	text      string
	endOfTurn bool
}

type fakeStream struct {
	mu        sync.Mutex
	audio     [][]byte
	video     []capture.Frame
	texts     []sentText
	responses [][]tools.Response

	events    chan *ServerEvent
	closed    chan struct{}
	closeOnce sync.Once
	sendErr   error
	// textGate, when set, holds SendText until it is closed or the stream is.
	textGate chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan *ServerEvent, 16), closed: make(chan struct{})}
}

func (f *fakeStream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return f.sendErr
}

func (f *fakeStream) SendVideo(fr capture.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, fr)
	return f.sendErr
}

func (f *fakeStream) SendText(text string, endOfTurn bool) error {
	if f.textGate != nil {
		select {
		case <-f.textGate:
		case <-f.closed:
			return ErrSessionClosed
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{text: text, endOfTurn: endOfTurn})
	return f.sendErr
}

func (f *fakeStream) SendToolResponses(resps []tools.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resps)
	return f.sendErr
}

// Receive returns queued events. A nil event simulates a transport failure.
func (f *fakeStream) Receive() (*ServerEvent, error) {
	select {
	case ev := <-f.events:
		if ev == nil {
			return nil, errBroken
		}
		return ev, nil
	case <-f.closed:
		return nil, ErrSessionClosed
	}
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeStream) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.texts...)
}

func (f *fakeStream) sentResponses() [][]tools.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]tools.Response(nil), f.responses...)
}

// fakeDialer hands out streams in order. A nil stream fails the dial.
type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	dials   int
	dialed  chan *fakeStream
}

func newFakeDialer(streams ...*fakeStream) *fakeDialer {
	return &fakeDialer{streams: streams, dialed: make(chan *fakeStream, len(streams)+1)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ Setup) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	if s == nil {
		return nil, errors.New("connect refused")
	}
	d.dialed <- s
	return s, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, []tools.Call) ([]tools.Response, bool) {
	return nil, false
}

type memLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *memLog) Append(sender, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, sender+": "+text)
	return nil
}

func (l *memLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type recordingSink struct {
	mu     sync.Mutex
	writes int
	resets int
}

func (s *recordingSink) Write([]byte) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Reset() error {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error { return nil }
