package avesync

import (
	"errors"
	"io"
	"time"
)

// A FrameIndex resolves item times to decoded frames. It pulls frames from
// a [Backend] without ever waiting on it: when the frame that should be
// visible hasn't been decoded yet, the query simply comes back empty.
//
// Queries must be made with non-decreasing item times within a loop.
// Frames older than the last delivered one are dropped, so a query that
// goes backwards gets the current frame again rather than an earlier one.
type FrameIndex struct {
	backend       Backend
	frameDuration time.Duration
	duration      time.Duration

	loop      int
	current   *Frame  // last delivered frame
	lookahead []Frame // decoded frames not delivered yet, in order
	exhausted bool    // backend returned io.EOF for this loop
	decodeErr error
}

// NewFrameIndex creates an index reading frames of the given clip from the
// backend.
func NewFrameIndex(backend Backend, clip Clip) *FrameIndex {
	return &FrameIndex{
		backend:       backend,
		frameDuration: clip.FrameDuration,
		duration:      clip.Duration,
	}
}

// FrameFor returns the frame whose display window [PTS, PTS+frameDuration)
// contains the item time. When two adjacent windows both contain it, which
// happens with rounded timestamps, the later frame wins.
//
// Repeated queries inside the same window return the same frame. Callers
// tell new frames from repeats by comparing Frame.Seq.
func (x *FrameIndex) FrameFor(item time.Duration) (Frame, bool) {
	if item < 0 || item >= x.duration {
		return Frame{}, false
	}

	x.pull(item)

	// latest buffered frame starting at or before the item time
	pick := -1
	for i := range x.lookahead {
		if x.lookahead[i].PTS > item {
			break
		}
		pick = i
	}
	if pick >= 0 {
		frame := x.lookahead[pick]
		frame.Loop = x.loop
		x.current = &frame
		x.lookahead = x.lookahead[pick+1:]
	}

	if x.current == nil {
		return Frame{}, false
	}
	if item < x.current.PTS {
		// backwards query: keep showing what is already up
		return *x.current, true
	}
	if !x.current.Covers(item, x.frameDuration) {
		// the frame for this window hasn't been decoded yet
		return Frame{}, false
	}
	return *x.current, true
}

// pull moves decoded frames from the backend into the lookahead buffer
// until a frame past the item time is buffered or the backend runs dry.
func (x *FrameIndex) pull(item time.Duration) {
	for !x.exhausted {
		if n := len(x.lookahead); n > 0 && x.lookahead[n-1].PTS > item {
			return
		}
		frame, err := x.backend.NextFrame()
		switch {
		case err == nil:
			x.lookahead = append(x.lookahead, frame)
		case errors.Is(err, ErrFrameNotReady):
			return
		case errors.Is(err, io.EOF):
			x.exhausted = true
		default:
			if x.decodeErr == nil || x.decodeErr.Error() != err.Error() {
				warnf("decode error at item time %v: %v", item, err)
			}
			x.decodeErr = err
			return
		}
	}
}

// Current returns the last delivered frame, if any.
func (x *FrameIndex) Current() (Frame, bool) {
	if x.current == nil {
		return Frame{}, false
	}
	return *x.current, true
}

// HasMore reports whether frames remain to be delivered in this loop.
func (x *FrameIndex) HasMore() bool {
	return !x.exhausted || len(x.lookahead) > 0
}

// Buffered returns the number of decoded frames waiting for their window.
func (x *FrameIndex) Buffered() int { return len(x.lookahead) }

// Err returns the last decode error seen while pulling frames.
func (x *FrameIndex) Err() error { return x.decodeErr }

// Reset forgets all frames and starts the given loop. Must be paired with a
// backend rewind.
func (x *FrameIndex) Reset(loop int) {
	x.loop = loop
	x.current = nil
	x.lookahead = nil
	x.exhausted = false
	x.decodeErr = nil
}
