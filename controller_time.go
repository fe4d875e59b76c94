package avesync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ FrameSource = (*Controller)(nil)

// A Session is a snapshot of a controller's playback session.
type Session struct {
	ID       uuid.UUID // new on every load
	State    State
	Clip     Clip
	Restarts int // explicit restarts since load
	Loops    int // timeline rewinds since load, including restarts and loops
}

// Session returns a snapshot of the current playback session.
func (c *Controller) Session() Session {
	c.lock()
	defer c.unlock()
	c.noLockAdvance(c.clock.Now())
	s := Session{ID: c.id, State: c.state, Clip: c.clip, Restarts: c.restarts}
	if c.timeline != nil {
		s.Loops = c.timeline.Loops()
	}
	return s
}

// State returns the current state. Like the frame queries, it checks the
// host clock first, so a clip that reached its end is reported as such.
func (c *Controller) State() State {
	c.lock()
	defer c.unlock()
	c.noLockAdvance(c.clock.Now())
	return c.state
}

// Clip returns the loaded clip, or false if there's none.
func (c *Controller) Clip() (Clip, bool) {
	c.lock()
	defer c.unlock()
	return c.clip, c.state.loaded()
}

// --- time queries ---

// FrameForHostTime is the per-tick query: it returns the frame that should
// be visible at hostPresentationTime, the host time at which the renderer
// will actually display it (usually the next vsync). hostTime is the time
// of the call, used to drive end-of-stream and loop transitions.
//
// It never blocks and never fails: if the frame hasn't been decoded yet, or
// there's no frame for that time, it returns false. Repeated calls within
// the same frame window return the same frame.
func (c *Controller) FrameForHostTime(hostTime, hostPresentationTime time.Duration) (Frame, bool) {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return Frame{}, false
	}
	c.noLockAdvance(hostTime)
	if hostPresentationTime < hostTime {
		hostPresentationTime = hostTime
	}
	item, ok := c.timeline.ItemTime(hostPresentationTime)
	if !ok {
		c.metrics.absent()
		return Frame{}, false
	}
	return c.noLockFrameFor(item)
}

// ItemTimeForHostTime maps a host time to the clip's item time. It returns
// false if there's no clip, playback hasn't been started yet, or the time
// is past the end of the clip.
func (c *Controller) ItemTimeForHostTime(host time.Duration) (time.Duration, bool) {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return 0, false
	}
	return c.timeline.ItemTime(host)
}

// FrameForItemTime looks up the frame for an item time directly, bypassing
// the timeline. The host time is only used for diagnostics.
func (c *Controller) FrameForItemTime(item, hostForDiagnostics time.Duration) (Frame, bool) {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return Frame{}, false
	}
	frame, ok := c.noLockFrameFor(item)
	if !ok && c.index.Err() != nil {
		debugf("session %s: no frame for item time %v at host time %v: %v",
			c.id, item, hostForDiagnostics, c.index.Err())
	}
	return frame, ok
}

func (c *Controller) noLockFrameFor(item time.Duration) (Frame, bool) {
	frame, ok := c.index.FrameFor(item)
	if !ok {
		c.metrics.absent()
		return Frame{}, false
	}
	key := frameKey{valid: true, seq: frame.Seq, loop: frame.Loop}
	c.metrics.delivered(key != c.delivered)
	c.delivered = key
	return frame, true
}

// HasMoreFrames reports whether frames remain to be shown in the current
// loop. It turns false once the backend is exhausted or the clip played to
// its end, until the clip is restarted.
func (c *Controller) HasMoreFrames() bool {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() || c.eos.reached {
		return false
	}
	return c.index.HasMore()
}

// Describe returns a one-line summary of the controller state, meant for
// logs and debugging overlays.
func (c *Controller) Describe() string {
	c.lock()
	defer c.unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %s", c.id, c.state)
	if !c.state.loaded() {
		return b.String()
	}
	now := c.clock.Now()
	item, _ := c.timeline.ItemTime(now)
	fmt.Fprintf(&b, " clip=%q item=%v/%v rate=%.3g loops=%d restarts=%d buffered=%d",
		c.clip.Source, item, c.clip.Duration, c.timeline.Rate(), c.timeline.Loops(), c.restarts, c.index.Buffered())
	if c.preroll != nil {
		b.WriteString(" preroll-pending")
	}
	if n := len(c.deferred); n > 0 {
		fmt.Fprintf(&b, " deferred=%d", n)
	}
	if c.timeline.Anchor() != nil {
		b.WriteString(" master-clock")
	}
	if c.looping {
		b.WriteString(" looping")
	}
	return b.String()
}

func (c *Controller) String() string { return c.Describe() }

// --- end of range handling ---

// atEnd reports whether the timeline sits at the end of the clip at the
// given host time.
func (c *Controller) atEnd(host time.Duration) bool {
	if c.timeline == nil || !c.timeline.IsSet() {
		return false
	}
	_, ok := c.timeline.ItemTime(host)
	return !ok
}

// needsRewind reports whether playback has moved away from item time zero.
func (c *Controller) needsRewind(host time.Duration) bool {
	if _, delivered := c.index.Current(); delivered || !c.index.HasMore() || c.eos.reached {
		return true
	}
	item, _ := c.timeline.ItemTime(host)
	return c.timeline.IsSet() && item > 0
}

// noLockAdvance applies the time driven transitions for the given host
// time: end of stream, loops and the final frame notification.
func (c *Controller) noLockAdvance(host time.Duration) {
	// a clip paused by a change scheduled past its end still ends
	if (c.state == Playing || c.state == Paused) && c.atEnd(host) {
		end, ok := c.timeline.EndHostTime()
		if !ok {
			end = host
		}
		if c.looping {
			debugf("session %s: looping at %v", c.id, end)
			c.noLockRestart(end, true, true)
		} else {
			c.noLockEndOfStream(end)
		}
	}

	c.noLockFollowRate(host)

	if c.eos.finalPending && host >= c.eos.finalFrame {
		c.eos.finalPending = false
		at := c.eos.finalFrame
		if hook := c.opts.Hooks.FinalFrame; hook != nil {
			c.queue(func() { hook(at) })
		}
	}
}

// noLockEndOfStream freezes the timeline at the end of the clip, emits the
// played-to-end notification and schedules the final frame one.
func (c *Controller) noLockEndOfStream(end time.Duration) {
	_ = c.timeline.SetRate(0, end)
	c.eos = endOfStream{
		reached:      true,
		finalPending: true,
		playedToEnd:  end,
		finalFrame:   end + c.clip.FrameDuration,
	}
	c.metrics.endOfStream()
	c.setState(EndOfStream)
	if hook := c.opts.Hooks.PlayedToEnd; hook != nil {
		c.queue(func() { hook(end) })
	}
	if !c.opts.HoldAtEnd {
		if err := c.noLockStop(end); err != nil {
			warnf("session %s: %v", c.id, err)
		}
	}
}
