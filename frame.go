package avesync

import (
	"fmt"
	"time"
)

// A Clip describes a loaded video source. It's produced by a [Backend] when
// loading completes and never changes afterwards.
type Clip struct {
	Source        string
	FrameDuration time.Duration // display interval of a single frame
	Duration      time.Duration // total clip length
	Width, Height int
}

// FrameRate returns the number of frames per second.
func (c Clip) FrameRate() float64 {
	if c.FrameDuration <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.FrameDuration)
}

// FrameCount returns the number of frame windows that fit in the clip.
func (c Clip) FrameCount() int {
	if c.FrameDuration <= 0 {
		return 0
	}
	return int((c.Duration + c.FrameDuration - 1) / c.FrameDuration)
}

func (c Clip) validate() error {
	if c.FrameDuration <= 0 {
		return fmt.Errorf("%w: frame duration %v", ErrInvalidClip, c.FrameDuration)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidClip, c.Duration)
	}
	return nil
}

// A Frame is a decoded video frame.
//
// The payload is opaque to this package: backends put whatever the renderer
// expects in there (RGBA bytes for reisen, for example). Ownership of the
// payload passes to the caller of the query that returned the frame, and
// lasts until the next query on the same source.
type Frame struct {
	// Display index within the current loop. Starts at 0 and resets on
	// restart. Renderers compare it to detect new frames.
	Seq int

	// Loop count of the timeline when the frame was delivered.
	Loop int

	// Presentation time on the item timeline.
	PTS time.Duration

	// Decode timestamp, when the backend knows it and it differs from PTS.
	DTS    time.Duration
	HasDTS bool

	Payload any
}

// Covers reports whether the item time falls inside the frame's display
// window [PTS, PTS+frameDuration).
func (f Frame) Covers(item, frameDuration time.Duration) bool {
	return item >= f.PTS && item < f.PTS+frameDuration
}

func (f Frame) String() string {
	return fmt.Sprintf("frame %d (loop %d) @ %v", f.Seq, f.Loop, f.PTS)
}
