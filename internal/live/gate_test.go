package live

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/livesession/internal/audio"
	"github.com/hubenschmidt/livesession/internal/capture"
)

func level(v int16, n int) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return audio.EncodePCM16(s)
}

func drain(q *Outbound) []OutboundItem {
	var items []OutboundItem
	for q.Len() > 0 {
		item, _ := q.Pop(context.Background())
		items = append(items, item)
	}
	return items
}

func TestGate_FrameBeforeAudioOnOnset(t *testing.T) {
	cell := &capture.FrameCell{}
	frame := capture.Frame{Data: "RkFLRQ==", MIMEType: capture.FrameMIME, CapturedAt: time.Unix(1, 0)}
	cell.Store(frame)
	q := NewOutbound(OutboundCapacity)
	g := NewGate(audio.NewVAD(audio.DefaultVADConfig(), nil), cell, q)

	chunk := level(1200, 256)
	require.NoError(t, g.Handle(context.Background(), chunk))

	items := drain(q)
	require.Len(t, items, 2)
	assert.Equal(t, KindVideo, items[0].Kind)
	assert.Equal(t, frame, items[0].Frame)
	assert.Equal(t, KindAudio, items[1].Kind)
	assert.Equal(t, chunk, items[1].Audio)

	// the frame is read, not taken
	_, ok := cell.Load()
	assert.True(t, ok)
}

func TestGate_NoFrameCapturedSendsAudioOnly(t *testing.T) {
	q := NewOutbound(OutboundCapacity)
	g := NewGate(audio.NewVAD(audio.DefaultVADConfig(), nil), &capture.FrameCell{}, q)

	require.NoError(t, g.Handle(context.Background(), level(1200, 256)))

	items := drain(q)
	require.Len(t, items, 1)
	assert.Equal(t, KindAudio, items[0].Kind)
}

func TestGate_FramesNeverExceedOnsets(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	cell := &capture.FrameCell{}
	cell.Store(capture.Frame{Data: "eA==", MIMEType: capture.FrameMIME})
	q := NewOutbound(1 << 12)
	vad := audio.NewVAD(audio.DefaultVADConfig(), clock)
	g := NewGate(vad, cell, q)

	rng := rand.New(rand.NewSource(7))
	onsets := 0
	for range 2000 {
		now = now.Add(time.Duration(rng.Intn(200)) * time.Millisecond)
		lvl := int16(rng.Intn(2000))
		wasSpeaking := vad.Speaking()
		require.NoError(t, g.Handle(context.Background(), level(lvl, 64)))
		if !wasSpeaking && vad.Speaking() {
			onsets++
		}
	}

	frames, audioChunks := 0, 0
	for _, item := range drain(q) {
		if item.Kind == KindVideo {
			frames++
			continue
		}
		audioChunks++
	}
	assert.Equal(t, 2000, audioChunks)
	assert.Positive(t, onsets)
	assert.LessOrEqual(t, frames, onsets)
}

func TestOutbound_PushBlocksWhenFull(t *testing.T) {
	q := NewOutbound(1)
	require.NoError(t, q.Push(context.Background(), AudioChunk([]byte{1})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Push(ctx, AudioChunk([]byte{2})), context.DeadlineExceeded)

	item, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, item.Audio)
}

func TestSender_WritesInOrderAndFailsOnWriteError(t *testing.T) {
	st := newFakeStream()
	sess := newSession("s", 1, st)
	q := NewOutbound(OutboundCapacity)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, VideoFrame(capture.Frame{Data: "eA=="})))
	require.NoError(t, q.Push(ctx, AudioChunk([]byte{1, 2})))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sess.runSender(runCtx, q) }()
	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.audio) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	st.mu.Lock()
	assert.Len(t, st.video, 1)
	assert.Equal(t, [][]byte{{1, 2}}, st.audio)
	st.sendErr = errBroken
	st.mu.Unlock()

	require.NoError(t, q.Push(ctx, AudioChunk([]byte{3})))
	err := sess.runSender(ctx, q)
	assert.ErrorIs(t, err, errBroken)
}

func TestSession_ClosedRejectsSends(t *testing.T) {
	st := newFakeStream()
	sess := newSession("s", 1, st)
	sess.close()
	assert.True(t, st.isClosed())
	assert.ErrorIs(t, sess.send(context.Background(), func(Stream) error { return nil }), ErrSessionClosed)
}
