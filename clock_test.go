package avesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_Monotonic(t *testing.T) {
	prev := SystemClock.Now()
	for i := 0; i < 1000; i++ {
		now := SystemClock.Now()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(time.Second)
	assert.Equal(t, time.Second, clock.Now())

	assert.Equal(t, 1500*time.Millisecond, clock.Advance(500*time.Millisecond))
	clock.Set(2 * time.Second)
	assert.Equal(t, 2*time.Second, clock.Now())

	assert.Panics(t, func() { clock.Set(time.Second) })
	assert.Panics(t, func() { clock.Advance(-time.Millisecond) })
}

func TestMasterClock_Conversions(t *testing.T) {
	clock := NewManualClock(5 * time.Second)
	master := NewMasterClock(clock)
	assert.Equal(t, 5*time.Second, master.Epoch())
	assert.Equal(t, time.Duration(0), master.Now())

	clock.Advance(time.Second)
	assert.Equal(t, time.Second, master.Now())
	assert.Equal(t, 2*time.Second, master.ToMaster(7*time.Second))
	assert.Equal(t, 7*time.Second, master.ToHost(2*time.Second))

	master.SetEpoch(6 * time.Second)
	assert.Equal(t, time.Duration(0), master.Now())
}
