package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func tone(level int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = level
		} else {
			out[i] = -level
		}
	}
	return out
}

func TestVAD_OnsetOncePerUtterance(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	v := NewVAD(DefaultVADConfig(), clk.now)

	r := v.Process(tone(1200, 512))
	assert.True(t, r.Onset)
	assert.InDelta(t, 1200, r.RMS, 0.5)

	r = v.Process(tone(1500, 512))
	assert.False(t, r.Onset, "continued speech is not a new onset")
	assert.True(t, v.Speaking())
}

func TestVAD_SilenceHangover(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	v := NewVAD(DefaultVADConfig(), clk.now)

	v.Process(tone(1200, 512))

	// first quiet chunk only arms the timer
	r := v.Process(tone(10, 512))
	assert.False(t, r.Ended)

	clk.advance(300 * time.Millisecond)
	r = v.Process(tone(10, 512))
	assert.False(t, r.Ended)
	assert.True(t, v.Speaking())

	// speech inside the window clears the timer
	r = v.Process(tone(1200, 512))
	assert.False(t, r.Onset)

	r = v.Process(tone(10, 512))
	assert.False(t, r.Ended)
	clk.advance(501 * time.Millisecond)
	r = v.Process(tone(10, 512))
	assert.True(t, r.Ended)
	assert.False(t, v.Speaking())

	r = v.Process(tone(1200, 512))
	assert.True(t, r.Onset)
}

func TestVAD_ThresholdIsStrict(t *testing.T) {
	v := NewVAD(VADConfig{Threshold: 800, SilenceTimeout: time.Second}, nil)
	r := v.Process(tone(800, 64))
	assert.False(t, r.Onset)
	assert.False(t, v.Speaking())
}

func TestVAD_EmptyChunkIsSilence(t *testing.T) {
	v := NewVAD(DefaultVADConfig(), nil)
	r := v.Process(nil)
	assert.Zero(t, r.RMS)
	assert.False(t, r.Onset)
}

func TestVAD_Reset(t *testing.T) {
	v := NewVAD(DefaultVADConfig(), nil)
	v.Process(tone(2000, 64))
	v.Reset()
	assert.False(t, v.Speaking())
	assert.True(t, v.Process(tone(2000, 64)).Onset)
}
