package avesync

import (
	"sync"
	"sync/atomic"
	"time"
)

// A HostClock is a monotonic time source. Host times are expressed as
// offsets from an arbitrary, clock-specific zero.
type HostClock interface {
	Now() time.Duration
}

// SystemClock is the process-wide host clock. Its zero is the instant the
// package was initialized, and it relies on the monotonic reading carried by
// [time.Time], so wall clock adjustments don't affect it.
var SystemClock HostClock = newMonotonicClock()

type monotonicClock struct {
	start time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// ManualClock is a [HostClock] that only moves when told to. Useful to drive
// controllers deterministically from tests or from an external tick source.
type ManualClock struct {
	mutex sync.Mutex
	now   time.Duration
}

// NewManualClock returns a clock reporting the given host time.
func NewManualClock(now time.Duration) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

// Set moves the clock to the given host time. Moving backwards panics, the
// clock is monotonic.
func (c *ManualClock) Set(now time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if now < c.now {
		panic("avesync: ManualClock moved backwards")
	}
	c.now = now
}

// Advance moves the clock forward by d and returns the new host time.
func (c *ManualClock) Advance(d time.Duration) time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if d < 0 {
		panic("avesync: ManualClock moved backwards")
	}
	c.now += d
	return c.now
}

// A MasterClock is a reference clock shared by several timelines. Timelines
// attached to it express their sync origins relative to the master epoch
// instead of the raw host clock, so all of them share a common zero.
//
// Timelines only read the epoch. Changing it with [MasterClock.SetEpoch] is
// an administrative action that moves every attached timeline at once and
// should not be interleaved with frame queries.
type MasterClock struct {
	clock HostClock
	epoch atomic.Int64
}

// NewMasterClock creates a master clock over the given host clock, with its
// epoch at the current host time. A nil clock means [SystemClock].
func NewMasterClock(clock HostClock) *MasterClock {
	if clock == nil {
		clock = SystemClock
	}
	m := &MasterClock{clock: clock}
	m.epoch.Store(int64(clock.Now()))
	return m
}

// Epoch returns the host time that corresponds to master time zero.
func (m *MasterClock) Epoch() time.Duration {
	return time.Duration(m.epoch.Load())
}

// SetEpoch moves master time zero to the given host time.
func (m *MasterClock) SetEpoch(host time.Duration) {
	m.epoch.Store(int64(host))
}

// Now returns the current master time.
func (m *MasterClock) Now() time.Duration {
	return m.clock.Now() - m.Epoch()
}

// ToMaster converts a host time into master time.
func (m *MasterClock) ToMaster(host time.Duration) time.Duration {
	return host - m.Epoch()
}

// ToHost converts a master time back into host time.
func (m *MasterClock) ToHost(master time.Duration) time.Duration {
	return master + m.Epoch()
}
