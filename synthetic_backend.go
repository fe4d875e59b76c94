package avesync

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var _ Backend = (*SyntheticBackend)(nil)

// SyntheticBackend is a [Backend] that produces frames on a fixed schedule
// without decoding anything: frame i is presented at i*FrameDuration and its
// payload is i. It's meant for tests and for exercising renderers without
// media at hand.
//
// Load and preroll completions can be held back with the Block/Release
// methods, and decoding can be made to lag with [SyntheticBackend.SetDecoded].
type SyntheticBackend struct {
	mutex sync.Mutex

	clip       Clip
	timestamps []time.Duration // optional PTS overrides

	loadErr     error
	prerollErr  error
	loadGate    chan struct{}
	prerollGate chan struct{}

	next    int
	decoded int // frames available this loop, -1 for all
	closed  bool

	loads, prerolls, rewinds, stops int
}

// NewSyntheticBackend creates a backend producing count frames of the given
// duration.
func NewSyntheticBackend(frameDuration time.Duration, count int) *SyntheticBackend {
	return &SyntheticBackend{
		clip: Clip{
			FrameDuration: frameDuration,
			Duration:      frameDuration * time.Duration(count),
			Width:         16,
			Height:        16,
		},
		decoded: -1,
	}
}

// SetTimestamps overrides the presentation times of the first frames, to
// reproduce rounded or jittery timestamps.
func (b *SyntheticBackend) SetTimestamps(pts ...time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.timestamps = pts
}

// FailLoad makes the next loads fail with err (nil restores success).
func (b *SyntheticBackend) FailLoad(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.loadErr = err
}

// FailPreroll makes the next prerolls fail with err (nil restores success).
func (b *SyntheticBackend) FailPreroll(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.prerollErr = err
}

// BlockLoad holds loads back until ReleaseLoad is called.
func (b *SyntheticBackend) BlockLoad() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.loadGate == nil {
		b.loadGate = make(chan struct{})
	}
}

// ReleaseLoad lets held back loads complete.
func (b *SyntheticBackend) ReleaseLoad() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.loadGate != nil {
		close(b.loadGate)
		b.loadGate = nil
	}
}

// BlockPreroll holds prerolls back until ReleasePreroll is called.
func (b *SyntheticBackend) BlockPreroll() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.prerollGate == nil {
		b.prerollGate = make(chan struct{})
	}
}

// ReleasePreroll lets held back prerolls complete.
func (b *SyntheticBackend) ReleasePreroll() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.prerollGate != nil {
		close(b.prerollGate)
		b.prerollGate = nil
	}
}

// SetDecoded limits the frames available in the current loop to the first
// n, simulating a decoder running behind. A negative n lifts the limit.
func (b *SyntheticBackend) SetDecoded(n int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.decoded = n
}

// Counts returns how many times each operation was called.
func (b *SyntheticBackend) Counts() (loads, prerolls, rewinds, stops int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.loads, b.prerolls, b.rewinds, b.stops
}

func (b *SyntheticBackend) Load(ctx context.Context, source string) (Clip, error) {
	b.mutex.Lock()
	b.loads++
	gate := b.loadGate
	b.mutex.Unlock()
	if err := wait(ctx, gate); err != nil {
		return Clip{}, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.loadErr != nil {
		return Clip{}, b.loadErr
	}
	b.next = 0
	clip := b.clip
	clip.Source = source
	return clip, nil
}

func (b *SyntheticBackend) Preroll(ctx context.Context, rate float64) error {
	b.mutex.Lock()
	b.prerolls++
	gate := b.prerollGate
	b.mutex.Unlock()
	if err := wait(ctx, gate); err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.prerollErr
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SyntheticBackend) NextFrame() (Frame, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return Frame{}, errors.New("synthetic backend closed")
	}
	if b.next >= b.clip.FrameCount() {
		return Frame{}, io.EOF
	}
	if b.decoded >= 0 && b.next >= b.decoded {
		return Frame{}, ErrFrameNotReady
	}
	i := b.next
	b.next++
	pts := b.clip.FrameDuration * time.Duration(i)
	if i < len(b.timestamps) {
		pts = b.timestamps[i]
	}
	return Frame{Seq: i, PTS: pts, Payload: i}, nil
}

func (b *SyntheticBackend) Rewind() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.rewinds++
	b.next = 0
	return nil
}

func (b *SyntheticBackend) Stop() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.stops++
	return nil
}

func (b *SyntheticBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	return nil
}
