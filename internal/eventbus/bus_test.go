package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	b := New(4)
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelA()
	defer cancelC()

	b.Publish(Event{Type: TypeStatus, Status: "connected"})

	assert.Equal(t, "connected", (<-a).Status)
	assert.Equal(t, "connected", (<-c).Status)
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Text: "one"})
	b.Publish(Event{Text: "two"})

	assert.Equal(t, "one", (<-ch).Text)
	assert.Empty(t, ch)
}

func TestBus_CancelClosesOnce(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{Text: "after"})
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	ch, cancel := b.Subscribe()
	assert.Nil(t, ch)
	cancel()
	b.Publish(Event{})
}

func TestBus_Notice(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Notice("Jules task 'x' has moved to COMPLETED.", 20000)
	ev := <-ch
	require.NotNil(t, ev.Display)
	assert.Equal(t, "notification", ev.Display.ContentType)
	assert.Equal(t, 20000, ev.Display.DurationMs)
}
