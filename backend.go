package avesync

import (
	"context"
	"errors"
)

// ErrFrameNotReady is returned by [Backend.NextFrame] when the next frame
// hasn't been decoded yet. It's not a failure, just a miss for this poll.
var ErrFrameNotReady = errors.New("next frame not decoded yet")

// A Backend is a decode backend: anything that can turn a source into a
// sequence of frames in presentation order. A [Controller] owns its backend
// and calls it from a single control sequence at a time, though Load and
// Preroll run on their own goroutine since they are allowed to block.
//
// Backends know nothing about host time. Timing is entirely handled by the
// controller's [Timeline] and [FrameIndex].
type Backend interface {
	// Load opens the source and returns its clip descriptor. It may block
	// and must return early with ctx.Err() once the context is done.
	Load(ctx context.Context, source string) (Clip, error)

	// Preroll primes the backend so frames are available with near zero
	// latency once playback starts at the given rate. It may block until
	// then and must honor ctx cancellation.
	Preroll(ctx context.Context, rate float64) error

	// NextFrame returns the next decoded frame in presentation order,
	// without blocking. It returns [ErrFrameNotReady] if decoding is
	// behind, and io.EOF once all frames of the current loop have been
	// returned. Frame.Seq must be the display index within the loop.
	NextFrame() (Frame, error)

	// Rewind seeks back to item time zero. Frames already decoded and
	// not yet returned are discarded.
	Rewind() error

	// Stop suspends decoding. A later Preroll resumes it.
	Stop() error

	// Close releases all resources. The backend is unusable afterwards.
	Close() error
}
