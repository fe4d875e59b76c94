// Package reisenbackend implements an [avesync.Backend] on top of reisen,
// decoding local files or network streams through ffmpeg.
//
// Decoding happens on a dedicated goroutine that keeps a small buffer of
// frames ahead of playback. Frame payloads are RGBA pixel slices of
// Clip.Width x Clip.Height pixels.
//
// Network sources (any source with a URL scheme, such as http:// or rtsp://)
// are supported as long as they report a duration: live streams without one
// are rejected with [ErrUnknownDuration].
//
// reisen only exposes presentation timestamps, so frames never carry a DTS.
package reisenbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/erparts/go-avesync"
	"github.com/erparts/reisen"
	"github.com/rs/zerolog"
)

// Tunables for the decode buffer.
const (
	// DefaultBufferSize is the number of decoded frames kept ahead.
	DefaultBufferSize = 8
	// prerollFrames is how many frames must be buffered for a preroll to
	// complete.
	prerollFrames = 3
)

var (
	ErrNoVideo         = errors.New("source doesn't include any video stream")
	ErrUnknownDuration = errors.New("source doesn't report a duration")
)

var _ avesync.Backend = (*Backend)(nil)

// Backend decodes the first video stream of a source with reisen.
//
// The reisen objects are only touched by the decode goroutine while it runs;
// every other access stops it first.
type Backend struct {
	mutex      sync.Mutex
	bufferSize int
	logger     avesync.Logger

	media  *reisen.Media
	stream *reisen.VideoStream
	clip   avesync.Clip

	run     *decodeRun // nil until decoding starts for this loop
	seq     int        // display index of the next decoded frame
	err     error      // sticky decode error
	network bool       // reisen networking initialized by this backend
}

// decodeRun is the decoding state for one loop of the clip.
type decodeRun struct {
	frames    chan avesync.Frame
	primed    chan struct{}
	primeOnce sync.Once

	errMutex sync.Mutex
	err      error

	// owned by the decode goroutine while it runs
	stop    chan struct{}
	wg      sync.WaitGroup
	pending *avesync.Frame // decoded but not delivered when stopped
	sent    int
	eof     bool
	failed  bool
}

func (r *decodeRun) markPrimed() {
	r.primeOnce.Do(func() { close(r.primed) })
}

func (r *decodeRun) fail(err error) {
	r.errMutex.Lock()
	r.err = err
	r.errMutex.Unlock()
	r.failed = true
	r.markPrimed()
}

func (r *decodeRun) failure() error {
	r.errMutex.Lock()
	defer r.errMutex.Unlock()
	return r.err
}

// New creates a backend. A bufferSize <= 0 means [DefaultBufferSize].
func New(bufferSize int, logger avesync.Logger) *Backend {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Backend{bufferSize: bufferSize, logger: logger}
}

func (b *Backend) warnf(format string, v ...any) {
	switch logger := b.logger.(type) {
	case nil:
	case *zerolog.Logger:
		logger.Warn().Msgf(format, v...)
	default:
		logger.Printf("WARNING: "+format, v...)
	}
}

// isNetworkSource reports whether the source is a URL rather than a path.
func isNetworkSource(source string) bool {
	scheme, _, found := strings.Cut(source, "://")
	return found && len(scheme) > 1
}

// initNetwork initializes reisen networking once per backend.
func (b *Backend) initNetwork() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.network {
		return nil
	}
	if err := reisen.NetworkInitialize(); err != nil {
		return err
	}
	b.network = true
	return nil
}

// Load opens the source and its first video stream for decoding.
func (b *Backend) Load(ctx context.Context, source string) (avesync.Clip, error) {
	if isNetworkSource(source) {
		if err := b.initNetwork(); err != nil {
			return avesync.Clip{}, fmt.Errorf("initializing network: %w", err)
		}
	}
	media, err := reisen.NewMedia(source)
	if err != nil {
		return avesync.Clip{}, err
	}
	if err := ctx.Err(); err != nil {
		media.Close()
		return avesync.Clip{}, err
	}

	videoStreams := media.VideoStreams()
	if len(videoStreams) == 0 {
		media.Close()
		return avesync.Clip{}, ErrNoVideo
	}
	if len(videoStreams) > 1 {
		b.warnf("'%s' has multiple video streams; defaulting to the first", filepath.Base(source))
	}
	stream := videoStreams[0]

	frNum, frDenom := stream.FrameRate()
	if frNum <= 0 || frDenom <= 0 {
		media.Close()
		return avesync.Clip{}, fmt.Errorf("invalid frame rate %d/%d", frNum, frDenom)
	}
	duration, err := stream.Duration()
	if err != nil {
		media.Close()
		return avesync.Clip{}, err
	}
	if duration <= 0 {
		media.Close()
		return avesync.Clip{}, fmt.Errorf("%w: %s", ErrUnknownDuration, source)
	}
	if err := media.OpenDecode(); err != nil {
		media.Close()
		return avesync.Clip{}, err
	}
	if err := stream.Open(); err != nil {
		_ = media.CloseDecode()
		media.Close()
		return avesync.Clip{}, err
	}

	clip := avesync.Clip{
		Source:        source,
		FrameDuration: (time.Second * time.Duration(frDenom)) / time.Duration(frNum),
		Duration:      duration,
		Width:         stream.Width(),
		Height:        stream.Height(),
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.noLockRelease()
	b.media, b.stream, b.clip = media, stream, clip
	b.seq, b.err = 0, nil
	return clip, nil
}

// Preroll starts decoding if needed and waits until a few frames are
// buffered, or the stream ends.
func (b *Backend) Preroll(ctx context.Context, _ float64) error {
	b.mutex.Lock()
	if b.media == nil {
		b.mutex.Unlock()
		return errors.New("no source loaded")
	}
	if b.err != nil {
		err := b.err
		b.mutex.Unlock()
		return err
	}
	run := b.noLockResume()
	b.mutex.Unlock()

	select {
	case <-run.primed:
		return run.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextFrame returns the next buffered frame without waiting for the
// decoder. Decoding starts lazily if it wasn't running.
func (b *Backend) NextFrame() (avesync.Frame, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.media == nil {
		return avesync.Frame{}, io.EOF
	}
	if b.err != nil {
		return avesync.Frame{}, b.err
	}
	run := b.noLockResume()

	select {
	case frame, ok := <-run.frames:
		if !ok {
			return avesync.Frame{}, io.EOF
		}
		return frame, nil
	default:
	}
	if err := run.failure(); err != nil {
		b.err = err
		return avesync.Frame{}, err
	}
	return avesync.Frame{}, avesync.ErrFrameNotReady
}

// Rewind stops decoding, drops buffered frames and seeks back to the start.
func (b *Backend) Rewind() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.media == nil {
		return nil
	}
	b.noLockSuspend()
	b.run = nil
	b.seq = 0
	b.err = nil
	return b.stream.Rewind(0)
}

// Stop suspends decoding. Buffered frames are kept and decoding resumes
// where it left off on the next Preroll or NextFrame.
func (b *Backend) Stop() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.noLockSuspend()
	return nil
}

// Close stops decoding and releases the media.
func (b *Backend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	err := b.noLockRelease()
	if b.network {
		reisen.NetworkDeinitialize()
		b.network = false
	}
	return err
}

func (b *Backend) noLockRelease() error {
	if b.media == nil {
		return nil
	}
	b.noLockSuspend()
	b.run = nil
	err := b.stream.Close()
	if cerr := b.media.CloseDecode(); err == nil {
		err = cerr
	}
	b.media.Close()
	b.media, b.stream = nil, nil
	return err
}

// noLockResume makes sure a decode goroutine runs for the current loop and
// returns its run.
func (b *Backend) noLockResume() *decodeRun {
	run := b.run
	if run == nil {
		run = &decodeRun{
			frames: make(chan avesync.Frame, b.bufferSize),
			primed: make(chan struct{}),
		}
		b.run = run
	}
	if run.stop != nil || run.eof || run.failed {
		return run // running or finished
	}
	run.stop = make(chan struct{})
	run.wg.Add(1)
	go b.decodeLoop(run, b.seq)
	return run
}

// noLockSuspend stops the decode goroutine, if any, and waits for it.
func (b *Backend) noLockSuspend() {
	run := b.run
	if run == nil || run.stop == nil {
		return
	}
	close(run.stop)
	run.wg.Wait()
	run.stop = nil
	b.seq = run.sent
}

// decodeLoop reads frames into the run's buffer until the stream ends, an
// error occurs or the run is stopped.
func (b *Backend) decodeLoop(run *decodeRun, seq int) {
	defer run.wg.Done()
	run.sent = seq

	for {
		var frame avesync.Frame
		if run.pending != nil {
			frame, run.pending = *run.pending, nil
		} else {
			select {
			case <-run.stop:
				return
			default:
			}

			vf, err := b.readVideoFrame()
			if err != nil {
				run.fail(err)
				return
			}
			if vf == nil {
				run.eof = true
				run.markPrimed()
				close(run.frames)
				return
			}
			pts, err := vf.PresentationOffset()
			if err != nil {
				run.fail(err)
				return
			}
			// no DTS: reisen frames only expose the presentation offset
			frame = avesync.Frame{Seq: run.sent, PTS: pts, Payload: vf.Data()}
		}

		select {
		case <-run.stop:
			run.pending = &frame
			return
		case run.frames <- frame:
			run.sent++
			if run.sent-seq >= prerollFrames || len(run.frames) == cap(run.frames) {
				run.markPrimed()
			}
		}
	}
}

// readVideoFrame reads packets until the next frame of the video stream.
// A nil frame means the stream is over.
func (b *Backend) readVideoFrame() (*reisen.VideoFrame, error) {
	for {
		packet, packetFound, err := b.media.ReadPacket()
		if err != nil {
			return nil, err
		}
		if !packetFound {
			return nil, nil
		}
		if packet.Type() != reisen.StreamVideo || packet.StreamIndex() != b.stream.Index() {
			continue
		}
		frame, _, err := b.stream.ReadVideoFrame()
		if err != nil {
			return nil, err
		}
		// a found frame can still be nil: that's a frame skip
		if frame != nil {
			return frame, nil
		}
	}
}
