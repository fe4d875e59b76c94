package avesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPlaylist struct {
	*Playlist
	clock    *ManualClock
	backends []*SyntheticBackend
	rec      *recorder
}

func newTestPlaylist(t *testing.T, groups [][]string, loop bool) *testPlaylist {
	t.Helper()
	tp := &testPlaylist{clock: NewManualClock(testStart), rec: &recorder{}}
	p, err := NewPlaylist(groups, func() Backend {
		b := NewSyntheticBackend(100*time.Millisecond, 10)
		tp.backends = append(tp.backends, b)
		return b
	}, PlaylistOptions{
		Clock: tp.clock,
		Loop:  loop,
		GroupStarted: func(index int, at time.Duration) {
			tp.rec.add("group %d@%v", index, at)
		},
		Finished: func(at time.Duration) { tp.rec.add("finished@%v", at) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	tp.Playlist = p
	return tp
}

// poll queries every controller the way a renderer does on each tick.
func (tp *testPlaylist) poll() {
	now := tp.clock.Now()
	for _, c := range tp.Controllers() {
		c.FrameForHostTime(now, now)
	}
}

func (tp *testPlaylist) waitGroup(t *testing.T, index int) {
	t.Helper()
	require.Eventually(t, func() bool {
		if tp.Group() != index {
			return false
		}
		for _, c := range tp.Active() {
			if c.State() != Playing {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond, "group %d never started", index)
}

func TestNewPlaylist_Empty(t *testing.T) {
	newBackend := func() Backend { return NewSyntheticBackend(time.Millisecond, 1) }
	_, err := NewPlaylist(nil, newBackend, PlaylistOptions{})
	assert.ErrorIs(t, err, ErrEmptyPlaylist)
	_, err = NewPlaylist([][]string{{"a"}, {}}, newBackend, PlaylistOptions{})
	assert.ErrorIs(t, err, ErrEmptyPlaylist)
}

func TestPlaylist_AdvancesGroupsTogether(t *testing.T) {
	tp := newTestPlaylist(t, [][]string{{"a", "b"}, {"c"}}, true)
	require.Len(t, tp.Controllers(), 2)

	require.NoError(t, tp.Start(context.Background()))
	tp.waitGroup(t, 0)
	first, second := tp.Controllers()[0], tp.Controllers()[1]
	item, _ := first.ItemTimeForHostTime(testStart + ms(250))
	assert.Equal(t, time.Duration(0), item)

	// both clips end at 11.25s: the second group loads and starts after the lead
	tp.clock.Set(testStart + ms(1300))
	tp.poll()
	tp.waitGroup(t, 1)
	clip, _ := first.Clip()
	assert.Equal(t, "c", clip.Source)
	assert.Equal(t, Stopped, second.State())
	item, ok := first.ItemTimeForHostTime(testStart + ms(1550))
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), item)

	// looping back reloads the first controller only
	tp.clock.Set(testStart + ms(2600))
	tp.poll()
	tp.waitGroup(t, 0)
	itemA, _ := first.ItemTimeForHostTime(13 * time.Second)
	itemB, _ := second.ItemTimeForHostTime(13 * time.Second)
	assert.Equal(t, ms(150), itemA)
	assert.Equal(t, itemA, itemB)

	loads, _, _, _ := tp.backends[1].Counts()
	assert.Equal(t, 1, loads)
	requireEvents(t, tp.rec, []string{
		"group 0@10.25s",
		"group 1@11.55s",
		"group 0@12.85s",
	})
}

func TestPlaylist_SingleGroupLoopsSeamlessly(t *testing.T) {
	tp := newTestPlaylist(t, [][]string{{"rgb", "alpha"}}, true)
	require.NoError(t, tp.Start(context.Background()))
	tp.waitGroup(t, 0)

	tp.clock.Set(testStart + ms(1300))
	tp.poll()
	requireEvents(t, tp.rec, []string{"group 0@10.25s", "group 0@11.25s"})
	tp.waitGroup(t, 0)

	for _, c := range tp.Controllers() {
		item, ok := c.ItemTimeForHostTime(tp.clock.Now())
		require.True(t, ok)
		assert.Equal(t, ms(50), item)
		assert.Equal(t, 1, c.Session().Loops)
	}
	for _, b := range tp.backends {
		loads, _, _, _ := b.Counts()
		assert.Equal(t, 1, loads)
	}
}

func TestPlaylist_Finished(t *testing.T) {
	tp := newTestPlaylist(t, [][]string{{"a"}}, false)
	require.NoError(t, tp.Start(context.Background()))
	tp.waitGroup(t, 0)

	tp.clock.Set(testStart + 2*time.Second)
	tp.poll()
	requireEvents(t, tp.rec, []string{"group 0@10.25s", "finished@11.25s"})
	assert.Equal(t, Stopped, tp.Controllers()[0].State())
}

func TestPlaylist_LoadFailure(t *testing.T) {
	tp := newTestPlaylist(t, [][]string{{"a", "b"}}, false)
	tp.backends[1].FailLoad(assert.AnError)

	err := tp.Start(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPlaylist_Close(t *testing.T) {
	tp := newTestPlaylist(t, [][]string{{"a"}}, true)
	require.NoError(t, tp.Close())
	assert.ErrorIs(t, tp.Start(context.Background()), ErrClosed)
}
