package avesync

import (
	"fmt"
	"sync/atomic"
	"time"
)

// timelineMapping is an immutable segment of a timeline's host-to-item
// mapping, in effect from host onwards. All host values are local: relative
// to the anchor epoch when an anchor is present, raw host time otherwise.
type timelineMapping struct {
	anchor *MasterClock
	host   time.Duration
	item   time.Duration
	rate   float64

	// segment in effect before host, for rate changes scheduled ahead of
	// the current time. Segments are chained in decreasing host order.
	prev *timelineMapping
}

func (m *timelineMapping) local(host time.Duration) time.Duration {
	if m.anchor == nil {
		return host
	}
	return m.anchor.ToMaster(host)
}

func (m *timelineMapping) raw(local time.Duration) time.Duration {
	if m.anchor == nil {
		return local
	}
	return m.anchor.ToHost(local)
}

// A Timeline maps host time to the item time of a single clip.
//
// The mapping is kept as an (anchor host time, anchor item time, rate)
// triple, so item time at host time h is
//
//	item = anchorItem + (h - anchorHost) * rate
//
// which is the same as (h - origin) * rate with origin the sync origin, but
// stays well defined while paused. Mappings are replaced as a whole, so
// concurrent readers never observe a half-updated origin.
type Timeline struct {
	duration      time.Duration
	frameDuration time.Duration

	mapping atomic.Pointer[timelineMapping]
	anchor  atomic.Pointer[MasterClock]
	loops   atomic.Int64
}

// NewTimeline creates an unset timeline for the given clip.
func NewTimeline(clip Clip) (*Timeline, error) {
	if err := clip.validate(); err != nil {
		return nil, err
	}
	return &Timeline{duration: clip.Duration, frameDuration: clip.FrameDuration}, nil
}

func (t *Timeline) Duration() time.Duration      { return t.duration }
func (t *Timeline) FrameDuration() time.Duration { return t.frameDuration }

// Loops returns how many times the timeline has been rewound.
func (t *Timeline) Loops() int { return int(t.loops.Load()) }

// IsSet reports whether an origin has been established.
func (t *Timeline) IsSet() bool { return t.mapping.Load() != nil }

// Rate returns the latest playback rate, including a change scheduled
// ahead, 0 when unset or paused.
func (t *Timeline) Rate() float64 {
	if m := t.mapping.Load(); m != nil {
		return m.rate
	}
	return 0
}

// RateAt returns the rate in effect at the given host time, 0 when unset.
func (t *Timeline) RateAt(host time.Duration) float64 {
	m := t.mapping.Load()
	if m == nil {
		return 0
	}
	return m.segment(m.local(host)).rate
}

// Scheduled reports whether a rate change is scheduled after the given host
// time.
func (t *Timeline) Scheduled(host time.Duration) bool {
	m := t.mapping.Load()
	return m != nil && m.local(host) < m.host
}

// ItemTime maps the host time to item time. The result is clamped to 0 for
// host times before the origin. When the item time reaches the clip
// duration, ok is false and the duration itself is returned: the timeline
// never extrapolates past the end or wraps on its own.
//
// An unset timeline returns (0, false).
func (t *Timeline) ItemTime(host time.Duration) (item time.Duration, ok bool) {
	m := t.mapping.Load()
	if m == nil {
		return 0, false
	}
	item = m.itemAt(host)
	if item >= t.duration {
		return t.duration, false
	}
	return item, true
}

// segment returns the segment in effect at the given local host time.
func (m *timelineMapping) segment(local time.Duration) *timelineMapping {
	for m.prev != nil && local < m.host {
		m = m.prev
	}
	return m
}

func (m *timelineMapping) itemAt(host time.Duration) time.Duration {
	local := m.local(host)
	seg := m.segment(local)
	item := seg.item + scaleDuration(local-seg.host, seg.rate)
	return max(item, 0)
}

// SetOrigin is the synchronized start primitive: item time 0 is mapped to
// the given host time, independently of when the call runs. Two timelines
// given the same host time reach item time 0 together.
func (t *Timeline) SetOrigin(host time.Duration, rate float64) error {
	if rate < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeRate, rate)
	}
	m := &timelineMapping{anchor: t.anchor.Load(), rate: rate}
	m.host = m.local(host)
	t.mapping.Store(m)
	return nil
}

// SetRate changes the rate at the given host time, keeping the item time at
// that instant unchanged. When the host time is ahead of the present, the
// mappings in effect before it are kept, so several changes can be scheduled
// ahead. Changes scheduled after the given host time are dropped. On an
// unset timeline it's equivalent to SetOrigin.
func (t *Timeline) SetRate(rate float64, host time.Duration) error {
	if rate < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeRate, rate)
	}
	old := t.mapping.Load()
	if old == nil {
		return t.SetOrigin(host, rate)
	}
	m := &timelineMapping{anchor: old.anchor, rate: rate}
	m.host = m.local(host)
	m.item = min(old.itemAt(host), t.duration)
	m.prev = old.segment(m.host)
	t.mapping.Store(m)
	return nil
}

// Forget drops the history only needed for host times before the given
// one. Item times at or after it, and the end host time, are unchanged.
func (t *Timeline) Forget(host time.Duration) {
	old := t.mapping.Load()
	if old == nil {
		return
	}
	if m := old.forget(old.local(host), t.duration); m != old {
		t.mapping.Store(m)
	}
}

// forget keeps the segments in effect at or after local, plus the one in
// which the end was reached, which EndHostTime needs.
func (m *timelineMapping) forget(local, duration time.Duration) *timelineMapping {
	if m.prev == nil {
		return m
	}
	var prev *timelineMapping
	if local < m.host || m.item >= duration {
		prev = m.prev.forget(local, duration)
	}
	if prev == m.prev {
		return m
	}
	n := *m
	n.prev = prev
	return &n
}

// Rewind maps item time 0 to the given host time, keeping the rate in
// effect at that time, and counts a new loop. Scheduled rate changes are
// dropped.
func (t *Timeline) Rewind(host time.Duration) {
	var rate float64
	if old := t.mapping.Load(); old != nil {
		rate = old.segment(old.local(host)).rate
	}
	m := &timelineMapping{anchor: t.anchor.Load(), rate: rate}
	m.host = m.local(host)
	t.mapping.Store(m)
	t.loops.Add(1)
}

// Unset drops the mapping and the loop count.
func (t *Timeline) Unset() {
	t.mapping.Store(nil)
	t.loops.Store(0)
}

// UseAnchor attaches the timeline to a master clock (or detaches it, with
// nil). An existing mapping is re-expressed in the new reference so item
// times don't jump. The timeline keeps a reference to the anchor, it
// doesn't own it.
func (t *Timeline) UseAnchor(anchor *MasterClock) {
	t.anchor.Store(anchor)
	old := t.mapping.Load()
	if old == nil {
		return
	}
	t.mapping.Store(old.reanchored(anchor))
}

func (m *timelineMapping) reanchored(anchor *MasterClock) *timelineMapping {
	n := &timelineMapping{anchor: anchor, item: m.item, rate: m.rate}
	n.host = n.local(m.raw(m.host))
	if m.prev != nil {
		n.prev = m.prev.reanchored(anchor)
	}
	return n
}

// Anchor returns the master clock the timeline is attached to, if any.
func (t *Timeline) Anchor() *MasterClock { return t.anchor.Load() }

// Origin returns the host time mapped to item time 0. It's undefined while
// paused or unset.
func (t *Timeline) Origin() (time.Duration, bool) {
	m := t.mapping.Load()
	if m == nil || m.rate <= 0 {
		return 0, false
	}
	return m.raw(m.host - scaleDuration(m.item, 1/m.rate)), true
}

// EndHostTime returns the host time at which item time reaches the clip
// duration. When the end falls before a scheduled rate change, that's the
// end reached under the earlier mapping. Undefined if the clip never reaches
// its end, which is the case while paused or unset.
func (t *Timeline) EndHostTime() (time.Duration, bool) {
	m := t.mapping.Load()
	if m == nil {
		return 0, false
	}
	// earliest segment the end can fall in: its successors start at the end
	seg := m
	for seg.prev != nil && seg.item >= t.duration {
		seg = seg.prev
	}
	if seg.rate <= 0 {
		return 0, false
	}
	return m.raw(seg.host + scaleDuration(t.duration-seg.item, 1/seg.rate)), true
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	if factor == 1 {
		return d
	}
	return time.Duration(float64(d) * factor)
}
