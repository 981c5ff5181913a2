package live

import (
	"context"
	"errors"

	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/tools"
)

var (
	ErrSessionClosed = errors.New("live session closed")
	ErrNoSession     = errors.New("no live session")
)

// Stream is one bidirectional connection to the model.
type Stream interface {
	SendAudio(pcm []byte) error
	SendVideo(f capture.Frame) error
	SendText(text string, endOfTurn bool) error
	SendToolResponses(resps []tools.Response) error
	// Receive blocks until the next server message. Close unblocks it.
	Receive() (*ServerEvent, error)
	Close() error
}

// Dialer opens a Stream configured by setup.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Stream, error)
}

type DialerFunc func(ctx context.Context, setup Setup) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, setup Setup) (Stream, error) { return f(ctx, setup) }

// Setup is negotiated at every connect.
type Setup struct {
	SystemPrompt string
	Voice        string
	Tools        []tools.Declaration
}

// ServerEvent is one decoded server message. Several fields may be set.
type ServerEvent struct {
	Text             string
	Thought          string
	Audio            [][]byte
	InputTranscript  string
	OutputTranscript string
	ToolCalls        []tools.Call
	TurnComplete     bool
	Interrupted      bool
}
