package avesync

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsValid(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.delivered(true)
		m.absent()
		m.transition(Idle, Loading)
		m.violation("play")
		m.cancelled(taskPreroll)
		m.restart()
		m.endOfStream()
	})
}

func TestMetrics_Controller(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	backend := NewSyntheticBackend(100*time.Millisecond, 10)
	c, clock := newTestController(t, backend, Options{Metrics: metrics})

	assert.ErrorIs(t, c.Play(), ErrPrecondition)
	loadClip(t, c)
	startPlaying(t, c, clock)

	for _, offset := range []time.Duration{ms(310), ms(350), ms(450)} {
		host := testStart + offset
		_, ok := c.FrameForHostTime(host, host)
		require.True(t, ok)
	}
	end := testStart + 2*time.Second
	_, ok := c.FrameForHostTime(end, end)
	require.False(t, ok)

	require.NoError(t, c.Restart())
	assert.Equal(t, Ready, c.State())

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.FramesDelivered))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.FramesNew))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FramesAbsent))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EndOfStream))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Restarts))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Violations.WithLabelValues("play")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Transitions.WithLabelValues("Loading", "Ready")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Transitions.WithLabelValues("Playing", "EndOfStream")))

	count, err := testutil.GatherAndCount(reg, "avesync_state_transitions_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestMetrics_Cancelled(t *testing.T) {
	metrics := NewMetrics(nil)
	backend := NewSyntheticBackend(100*time.Millisecond, 10)
	backend.BlockPreroll()
	c, _ := newTestController(t, backend, Options{Metrics: metrics})
	loadClip(t, c)

	_, err := c.PrerollThenNotify(1, nil)
	require.NoError(t, err)
	require.NoError(t, c.Stop())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Cancelled.WithLabelValues("preroll")))
}
