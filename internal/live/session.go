package live

import (
	"context"
	"sync"
	"sync/atomic"
)

// Session is the handle of one live connection. The supervisor creates one
// per connect and closes it on teardown.
type Session struct {
	ID         string
	Generation uint64

	stream    Stream
	sem       chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(id string, gen uint64, stream Stream) *Session {
	return &Session{ID: id, Generation: gen, stream: stream, sem: make(chan struct{}, 1)}
}

// send runs fn against the stream holding the send semaphore. The caller
// stops waiting when ctx ends; the semaphore is held until fn returns.
func (s *Session) send(ctx context.Context, fn func(Stream) error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.closed.Load() {
		<-s.sem
		return ErrSessionClosed
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-s.sem }()
		done <- fn(s.stream)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) receive() (*ServerEvent, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.stream.Receive()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.stream.Close()
	})
}

func (s *Session) Closed() bool { return s.closed.Load() }
