package live

import (
	"log/slog"
	"strings"
)

const (
	SenderUser      = "User"
	SenderAssistant = "Assistant"
)

// TranscriptLog persists finished utterances.
type TranscriptLog interface {
	Append(sender, text string) error
}

// TranscriptionTracker turns cumulative transcription updates into deltas.
type TranscriptionTracker struct {
	last string
}

// Delta returns the part of text not seen yet. When text does not extend
// the previous value it is returned whole.
func (t *TranscriptionTracker) Delta(text string) string {
	if text == t.last {
		return ""
	}
	prev := t.last
	t.last = text
	if prev != "" && strings.HasPrefix(text, prev) {
		return text[len(prev):]
	}
	return text
}

func (t *TranscriptionTracker) Reset() { t.last = "" }

// ChatBuffer collects consecutive deltas from one speaker and writes them
// to the log as a single entry.
type ChatBuffer struct {
	log    TranscriptLog
	sender string
	text   strings.Builder
}

func NewChatBuffer(log TranscriptLog) *ChatBuffer {
	return &ChatBuffer{log: log}
}

func (c *ChatBuffer) Add(sender, delta string) {
	if c.sender != "" && c.sender != sender {
		c.Flush()
	}
	c.sender = sender
	c.text.WriteString(delta)
}

// Flush writes the buffered entry, if any, and empties the buffer.
func (c *ChatBuffer) Flush() {
	sender, text := c.sender, strings.TrimSpace(c.text.String())
	c.Reset()
	if sender == "" || text == "" || c.log == nil {
		return
	}
	if err := c.log.Append(sender, text); err != nil {
		slog.Warn("transcript append failed", "sender", sender, "error", err)
	}
}

func (c *ChatBuffer) Reset() {
	c.sender = ""
	c.text.Reset()
}
