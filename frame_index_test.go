package avesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, backend *SyntheticBackend) *FrameIndex {
	t.Helper()
	clip, err := backend.Load(context.Background(), "synthetic")
	require.NoError(t, err)
	return NewFrameIndex(backend, clip)
}

func TestFrameIndex_FrameFor(t *testing.T) {
	index := newTestIndex(t, NewSyntheticBackend(100*time.Millisecond, 10))

	tests := []struct {
		item time.Duration
		seq  int
		ok   bool
	}{
		{item: 0, seq: 0, ok: true},
		{item: ms(350), seq: 3, ok: true},
		{item: ms(990), seq: 9, ok: true},
		{item: time.Second, ok: false},
	}
	for _, tt := range tests {
		frame, ok := index.FrameFor(tt.item)
		require.Equal(t, tt.ok, ok, "item %v", tt.item)
		if ok {
			assert.Equal(t, tt.seq, frame.Seq, "item %v", tt.item)
			assert.Equal(t, tt.seq, frame.Payload)
			assert.True(t, frame.Covers(tt.item, 100*time.Millisecond))
		}
	}
}

func TestFrameIndex_SameWindowSameFrame(t *testing.T) {
	index := newTestIndex(t, NewSyntheticBackend(100*time.Millisecond, 10))

	first, ok := index.FrameFor(ms(310))
	require.True(t, ok)
	second, ok := index.FrameFor(ms(390))
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, second.Seq)
}

func TestFrameIndex_BackwardsQuery(t *testing.T) {
	index := newTestIndex(t, NewSyntheticBackend(100*time.Millisecond, 10))

	_, ok := index.FrameFor(ms(350))
	require.True(t, ok)
	frame, ok := index.FrameFor(ms(150))
	require.True(t, ok)
	assert.Equal(t, 3, frame.Seq)
}

func TestFrameIndex_OverlappingWindowsPickLater(t *testing.T) {
	backend := NewSyntheticBackend(100*time.Millisecond, 10)
	// frame 4 starts before frame 3's window closes
	backend.SetTimestamps(0, ms(100), ms(200), ms(300), ms(395))
	index := newTestIndex(t, backend)

	frame, ok := index.FrameFor(ms(397))
	require.True(t, ok)
	assert.Equal(t, 4, frame.Seq)
}

func TestFrameIndex_NotDecodedYet(t *testing.T) {
	backend := NewSyntheticBackend(100*time.Millisecond, 10)
	backend.SetDecoded(2)
	index := newTestIndex(t, backend)

	_, ok := index.FrameFor(ms(350))
	assert.False(t, ok, "frame 3 isn't decoded, frame 1 must not be shown in its place")
	assert.True(t, index.HasMore())

	backend.SetDecoded(-1)
	frame, ok := index.FrameFor(ms(350))
	require.True(t, ok)
	assert.Equal(t, 3, frame.Seq)
}

func TestFrameIndex_HasMore(t *testing.T) {
	index := newTestIndex(t, NewSyntheticBackend(100*time.Millisecond, 10))
	assert.True(t, index.HasMore())

	_, ok := index.FrameFor(ms(550))
	require.True(t, ok)
	assert.True(t, index.HasMore())
	assert.Positive(t, index.Buffered())

	_, ok = index.FrameFor(ms(990))
	require.True(t, ok)
	assert.False(t, index.HasMore())
	assert.Zero(t, index.Buffered())
}

func TestFrameIndex_Reset(t *testing.T) {
	backend := NewSyntheticBackend(100*time.Millisecond, 10)
	index := newTestIndex(t, backend)

	_, ok := index.FrameFor(ms(990))
	require.True(t, ok)

	require.NoError(t, backend.Rewind())
	index.Reset(1)
	_, ok = index.Current()
	assert.False(t, ok)

	frame, ok := index.FrameFor(0)
	require.True(t, ok)
	assert.Equal(t, 0, frame.Seq)
	assert.Equal(t, 1, frame.Loop)
}

type failingBackend struct {
	*SyntheticBackend
	err error
}

func (b failingBackend) NextFrame() (Frame, error) { return Frame{}, b.err }

func TestFrameIndex_DecodeError(t *testing.T) {
	boom := errors.New("corrupt packet")
	backend := failingBackend{SyntheticBackend: NewSyntheticBackend(100*time.Millisecond, 10), err: boom}
	clip, err := backend.Load(context.Background(), "synthetic")
	require.NoError(t, err)
	index := NewFrameIndex(backend, clip)

	_, ok := index.FrameFor(ms(100))
	assert.False(t, ok)
	assert.ErrorIs(t, index.Err(), boom)
	assert.True(t, index.HasMore())
}
