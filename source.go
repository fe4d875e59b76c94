package avesync

import "time"

// A FrameSource is what a renderer polls on every display refresh. It's
// implemented by [Controller], and can be implemented by anything else able
// to map host time to frames.
type FrameSource interface {
	// Returns the frame to display at hostPresentationTime, or false if
	// there's none. hostTime is the time of the call. Never blocks.
	FrameForHostTime(hostTime, hostPresentationTime time.Duration) (Frame, bool)

	// Returns false once all frames of the current loop have been shown.
	HasMoreFrames() bool

	// Returns a diagnostic summary of the source state. Not meant for
	// control decisions.
	Describe() string
}
