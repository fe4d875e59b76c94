package avesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors reported by [Controller] operations.
var (
	ErrPrecondition = errors.New("operation not allowed in the current state")
	ErrNoClip       = errors.New("no clip loaded")
	ErrNegativeRate = errors.New("negative playback rate")
	ErrCancelled    = errors.New("operation cancelled")
	ErrInvalidClip  = errors.New("invalid clip")
	ErrClosed       = errors.New("controller closed")
)

// Hooks are lifecycle notifications. They run outside the controller lock,
// on the goroutine that caused the event: the polling goroutine for time
// driven events, a task goroutine for completions. Hooks may call back into
// the controller.
type Hooks struct {
	// Invoked on every state transition.
	StateChanged func(from, to State)

	// Invoked when the display window of the final frame closes. The
	// argument is the host time at which that happened, which can be
	// slightly earlier than the poll that detected it.
	PlayedToEnd func(at time.Duration)

	// Invoked one frame duration after PlayedToEnd, once the final frame
	// has been on screen for its whole display interval.
	FinalFrame func(at time.Duration)
}

// Options configure a [Controller]. The zero value is usable.
type Options struct {
	// Host clock used to timestamp control operations. Defaults to
	// [SystemClock].
	Clock HostClock

	// Rate used by Play and Restart when no rate has been set before.
	// Defaults to 1.
	DefaultRate float64

	// Restart automatically at the end of the clip instead of ending.
	Looping bool

	// Stay in [EndOfStream] after the clip plays to the end. By default
	// the controller moves on to [Stopped].
	HoldAtEnd bool

	Hooks   Hooks
	Metrics *Metrics
}

// A Controller drives the playback of a single clip: it owns the clip's
// [Timeline] and [FrameIndex], sequences the lifecycle of its [Backend], and
// answers time-to-frame queries for a renderer.
//
// Typical usage:
//   - Create a controller with [NewController]() and [Controller.Load]() a source.
//   - Call [Controller.Play]() or, to start several controllers in sync,
//     [Controller.PlayAt]() with a common host time.
//   - On each display refresh, call [Controller.FrameForHostTime]().
//
// All methods are safe for concurrent use, and state transitions are applied
// in the order their calls are made.
type Controller struct {
	mutex   sync.Mutex
	backend Backend
	clock   HostClock
	opts    Options
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	// session
	id       uuid.UUID
	restarts int
	state    State
	clip     Clip
	timeline *Timeline
	index    *FrameIndex
	anchor   *MasterClock
	looping  bool

	// pending work
	load      *task
	preroll   *task
	prerolled bool // preroll completed, waiting for a rate
	deferred  []rateChange
	lastRate  float64

	eos       endOfStream
	delivered frameKey
	notify    []func() // hooks and completions to run once unlocked
}

type rateChange struct {
	rate float64
	at   time.Duration
}

type endOfStream struct {
	reached      bool
	finalPending bool
	playedToEnd  time.Duration
	finalFrame   time.Duration
}

type frameKey struct {
	valid     bool
	seq, loop int
}

// NewController creates an idle controller over the given backend.
func NewController(backend Backend, opts Options) *Controller {
	if backend == nil {
		panic("nil backend")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend: backend,
		clock:   opts.Clock,
		opts:    opts,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		looping: opts.Looping,
		state:   Idle,
	}
}

// --- locking ---

func (c *Controller) lock() { c.mutex.Lock() }

// unlock releases the lock and then runs the queued notifications, in the
// order they were queued.
func (c *Controller) unlock() {
	pending := c.notify
	c.notify = nil
	c.mutex.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (c *Controller) queue(fn func()) {
	c.notify = append(c.notify, fn)
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	debugf("session %s: %s -> %s", c.id, from, to)
	c.metrics.transition(from, to)
	if hook := c.opts.Hooks.StateChanged; hook != nil {
		c.queue(func() { hook(from, to) })
	}
}

func (c *Controller) violation(op string) error {
	err := fmt.Errorf("%w: %s while %s", ErrPrecondition, op, c.state)
	warnf("session %s: %v", c.id, err)
	c.metrics.violation(op)
	return err
}

// --- loading ---

// Load starts loading the given source asynchronously. The returned
// completion resolves once with the outcome: on success the controller is
// [Ready], on failure it's back to [Idle].
//
// Loading while another load is in flight is a precondition violation.
// Loading over a loaded clip tears the current session down first.
func (c *Controller) Load(source string) (*Completion, error) {
	c.lock()
	defer c.unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.state == Loading {
		return nil, c.violation("load")
	}
	if c.state != Idle {
		c.noLockTeardown()
	}

	c.id = uuid.New()
	c.restarts = 0
	t := c.newTask(taskLoad)
	c.load = t
	c.setState(Loading)
	c.spawn(func() {
		clip, err := c.backend.Load(t.ctx, source)
		c.finishLoad(t, source, clip, err)
	})
	return t.completion, nil
}

func (c *Controller) finishLoad(t *task, source string, clip Clip, err error) {
	c.lock()
	defer c.unlock()
	if c.load != t {
		return // cancelled
	}
	c.load = nil
	t.cancel()
	if err == nil {
		err = clip.validate()
	}
	var timeline *Timeline
	if err == nil {
		timeline, err = NewTimeline(clip)
	}
	if err != nil {
		err = fmt.Errorf("loading %q: %w", source, err)
		warnf("session %s: %v", c.id, err)
		c.setState(Idle)
		c.queue(func() { t.completion.resolve(err) })
		return
	}

	c.clip = clip
	c.timeline = timeline
	c.timeline.UseAnchor(c.anchor)
	c.index = NewFrameIndex(c.backend, clip)
	c.eos = endOfStream{}
	c.delivered = frameKey{}
	c.setState(Ready)
	c.queue(func() { t.completion.resolve(nil) })
}

// noLockTeardown cancels all pending work and drops the current clip.
func (c *Controller) noLockTeardown() {
	c.noLockCancelLoad()
	c.noLockCancelPreroll()
	if c.state.loaded() {
		if err := c.backend.Stop(); err != nil {
			warnf("session %s: stopping backend: %v", c.id, err)
		}
	}
	c.clip = Clip{}
	c.timeline = nil
	c.index = nil
	c.eos = endOfStream{}
	c.delivered = frameKey{}
	c.setState(Idle)
}

// --- tasks ---

func (c *Controller) newTask(kind taskKind) *task {
	ctx, cancel := context.WithCancel(c.ctx)
	return &task{kind: kind, ctx: ctx, cancel: cancel, completion: newCompletion()}
}

func (c *Controller) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) noLockCancel(t *task) {
	t.cancel()
	// resolved right away: the task goroutine may still be running, but
	// its result won't be applied anymore
	t.completion.resolve(ErrCancelled)
	c.metrics.cancelled(t.kind)
	debugf("session %s: %s cancelled", c.id, t.kind)
}

func (c *Controller) noLockCancelLoad() {
	if c.load != nil {
		c.noLockCancel(c.load)
		c.load = nil
	}
}

func (c *Controller) noLockCancelPreroll() {
	if c.preroll != nil {
		c.noLockCancel(c.preroll)
		c.preroll = nil
	}
	c.prerolled = false
}

// --- preroll ---

// PrerollThenNotify primes the backend for playback at the given rate. The
// controller moves to [Prerolling] with the item time frozen; onReady (if
// not nil) runs at most once when the backend is ready, after which
// [Controller.SetRate] starts visible playback without delay.
//
// Rate changes requested before the preroll completes are deferred until
// then. A [Controller.Stop] cancels the preroll: onReady never runs and the
// completion resolves with [ErrCancelled].
func (c *Controller) PrerollThenNotify(rate float64, onReady func()) (*Completion, error) {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return nil, c.violation("preroll")
	}
	if rate < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNegativeRate, rate)
	}
	if rate > 0 {
		c.lastRate = rate
	}
	now := c.clock.Now()
	if c.atEnd(now) {
		c.noLockRewind(now)
	}
	t := c.noLockPreroll(rate, now)
	t.onReady = onReady
	return t.completion, nil
}

// noLockPreroll freezes the timeline and starts a preroll task, replacing
// any preroll already pending.
func (c *Controller) noLockPreroll(rate float64, now time.Duration) *task {
	if c.preroll != nil {
		c.noLockCancel(c.preroll)
	}
	if c.timeline.IsSet() {
		_ = c.timeline.SetRate(0, now)
	}
	t := c.newTask(taskPreroll)
	t.rate = rate
	c.preroll = t
	c.prerolled = false
	c.setState(Prerolling)
	c.spawn(func() {
		err := c.backend.Preroll(t.ctx, rate)
		c.finishPreroll(t, err)
	})
	return t
}

func (c *Controller) finishPreroll(t *task, err error) {
	c.lock()
	defer c.unlock()
	if c.preroll != t {
		return // cancelled or superseded
	}
	c.preroll = nil
	t.cancel()
	if err != nil {
		err = fmt.Errorf("preroll: %w", err)
		warnf("session %s: %v", c.id, err)
		if len(c.deferred) > 0 {
			warnf("session %s: dropping %d deferred rate changes", c.id, len(c.deferred))
			c.deferred = nil
		}
		c.setState(Stopped)
		c.queue(func() { t.completion.resolve(err) })
		return
	}

	c.prerolled = true
	now := c.clock.Now()
	if t.autoPlay {
		if t.synced {
			_ = c.timeline.SetOrigin(t.syncAt, t.rate)
			c.noLockStarted(t.rate)
		} else {
			c.noLockApplyRate(t.rate, now)
		}
	}
	if t.onReady != nil {
		c.queue(t.onReady)
	}
	c.queue(func() { t.completion.resolve(nil) })

	deferred := c.deferred
	c.deferred = nil
	for _, change := range deferred {
		// queued changes can't take effect before the preroll completed
		c.noLockApplyRate(change.rate, max(change.at, now))
	}
}

// --- rate control ---

// SetRate changes the playback rate at the given host time, preserving the
// item time at that instant. A positive rate plays, 0 pauses.
//
// Host times in the past are clamped to the present: a rate change can't
// be retroactive. While a preroll is pending the change is deferred until
// the preroll completes. Calling SetRate without a loaded clip is a
// precondition violation.
func (c *Controller) SetRate(rate float64, atHost time.Duration) error {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return c.violation("set rate")
	}
	if rate < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeRate, rate)
	}
	if now := c.clock.Now(); atHost < now {
		debugf("session %s: rate change at %v is in the past, applying at %v", c.id, atHost, now)
		atHost = now
	}
	if c.preroll != nil {
		c.deferred = append(c.deferred, rateChange{rate: rate, at: atHost})
		return nil
	}
	c.noLockApplyRate(rate, atHost)
	return nil
}

func (c *Controller) noLockApplyRate(rate float64, at time.Duration) {
	now := c.clock.Now()
	c.timeline.Forget(now)
	if rate == 0 {
		if c.timeline.IsSet() {
			_ = c.timeline.SetRate(0, at)
		}
		c.noLockFollowRate(now)
		return
	}
	if c.state == EndOfStream || c.atEnd(at) {
		c.noLockRewind(at)
	}
	_ = c.timeline.SetRate(rate, at)
	if c.state == Paused {
		// resuming ahead of time: stay paused until then
		c.lastRate = rate
		c.noLockFollowRate(now)
		return
	}
	c.noLockStarted(rate)
}

func (c *Controller) noLockStarted(rate float64) {
	c.lastRate = rate
	c.prerolled = false
	c.setState(Playing)
}

// noLockFollowRate moves between Playing and Paused to match the rate in
// effect at the given host time, which differs from the latest rate when a
// change is scheduled ahead.
func (c *Controller) noLockFollowRate(host time.Duration) {
	if c.state != Playing && c.state != Paused {
		return
	}
	if c.timeline.RateAt(host) > 0 {
		c.setState(Playing)
	} else {
		c.setState(Paused)
	}
}

// playRate returns the rate Play and Restart use.
func (c *Controller) playRate() float64 {
	if c.lastRate > 0 {
		return c.lastRate
	}
	return c.opts.DefaultRate
}

// Play starts or resumes playback at the last used rate. From [Paused] it
// resumes right away; otherwise the backend is prerolled first and playback
// starts as soon as it's ready. A clip that played to the end starts over.
// If already playing, nothing happens.
func (c *Controller) Play() error {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return c.violation("play")
	}

	now := c.clock.Now()
	rate := c.playRate()
	switch {
	case c.state == Playing:
		if c.timeline.Scheduled(now) {
			// drop a pending pause or rate change
			c.noLockApplyRate(rate, now)
		}
		return nil
	case c.preroll != nil:
		c.preroll.autoPlay = true
		c.preroll.rate = rate
	case c.state == Paused || c.prerolled:
		c.noLockApplyRate(rate, now)
	default:
		if c.state == EndOfStream || c.atEnd(now) {
			c.noLockRewind(now)
		}
		t := c.noLockPreroll(rate, now)
		t.autoPlay = true
	}
	return nil
}

// PlayAt starts playback so that item time zero falls exactly on the given
// host time, no matter when the call is made. Controllers given the same
// host time start together, which is the way to keep several clips in sync.
// If the clip isn't at its beginning it's rewound first.
//
// Unlike [Controller.SetRate], the host time is never clamped: a time in the
// past means playback joins in progress.
func (c *Controller) PlayAt(syncHost time.Duration) error {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return c.violation("play")
	}

	now := c.clock.Now()
	rate := c.playRate()
	if c.needsRewind(now) {
		c.noLockRewind(now)
	}
	if c.prerolled && c.preroll == nil {
		_ = c.timeline.SetOrigin(syncHost, rate)
		c.noLockStarted(rate)
		return nil
	}
	t := c.noLockPreroll(rate, now)
	t.autoPlay = true
	t.synced = true
	t.syncAt = syncHost
	return nil
}

// Pause freezes the item time. Equivalent to SetRate(0, now).
func (c *Controller) Pause() error {
	return c.SetRate(0, c.clock.Now())
}

// --- restart and stop ---

// Restart rewinds the clip to item time zero. If the controller is on the
// play path (prerolling, playing or paused) playback restarts through a new
// preroll; otherwise it's a pure rewind and the controller ends up [Ready].
// The restart counter and the timeline loop count are incremented and frame
// sequence numbers start over at 0.
//
// Restarting with nothing loaded is reported with [ErrNoClip].
func (c *Controller) Restart() error {
	c.lock()
	defer c.unlock()
	switch {
	case c.state == Idle:
		debugf("session %s: restart ignored, no clip loaded", c.id)
		return ErrNoClip
	case c.state == Loading:
		return c.violation("restart")
	}

	now := c.clock.Now()
	c.restarts++
	c.metrics.restart()
	switch c.state {
	case Playing, Paused, Restarting:
		c.noLockRestart(now, false, true)
		return nil
	case Prerolling:
		// keep whatever the pending preroll was going to do
		autoPlay := c.preroll != nil && c.preroll.autoPlay
		c.noLockRestart(now, false, autoPlay)
		return nil
	}
	c.noLockRewind(now)
	_ = c.timeline.SetRate(0, now)
	c.setState(Ready)
	return nil
}

// noLockRestart goes through Restarting and back to Prerolling, usually to
// play again from item time zero. When synced, item time zero is pinned to the
// given host time, which lets loops start exactly where the previous pass
// ended.
func (c *Controller) noLockRestart(at time.Duration, synced, autoPlay bool) {
	rate := c.playRate()
	c.noLockCancelPreroll()
	if len(c.deferred) > 0 {
		debugf("session %s: restart drops %d deferred rate changes", c.id, len(c.deferred))
		c.deferred = nil
	}
	c.setState(Restarting)
	c.noLockRewind(at)
	t := c.noLockPreroll(rate, at)
	t.autoPlay = autoPlay
	t.synced = synced
	t.syncAt = at
}

// noLockRewind moves the timeline, the backend and the frame index back to
// item time zero. The timeline keeps its rate.
func (c *Controller) noLockRewind(host time.Duration) {
	c.timeline.Rewind(host)
	if err := c.backend.Rewind(); err != nil {
		warnf("session %s: rewinding backend: %v", c.id, err)
	}
	c.index.Reset(c.timeline.Loops())
	c.eos = endOfStream{}
	c.delivered = frameKey{}
}

// SeekToItemTimeZero rewinds the clip without changing the playback state:
// a playing clip keeps playing from the start. A clip that had played to the
// end becomes [Ready] again.
func (c *Controller) SeekToItemTimeZero() error {
	c.lock()
	defer c.unlock()
	if !c.state.loaded() {
		return c.violation("seek")
	}
	c.noLockRewind(c.clock.Now())
	if c.state == EndOfStream {
		c.setState(Ready)
	}
	return nil
}

// Stop forces the rate to 0 and cancels any pending preroll or restart, and
// any deferred rate change: none of their callbacks will run. Unlike a
// pause, resuming requires a new Play. Stopping a load in flight cancels it
// and leaves the controller [Idle].
//
// A final-frame notification already scheduled by an end of stream is not
// cancelled.
func (c *Controller) Stop() error {
	c.lock()
	defer c.unlock()
	switch c.state {
	case Idle:
		return nil
	case Loading:
		c.noLockCancelLoad()
		c.setState(Idle)
		return nil
	}
	return c.noLockStop(c.clock.Now())
}

func (c *Controller) noLockStop(now time.Duration) error {
	c.noLockCancelPreroll()
	c.deferred = nil
	if c.timeline.IsSet() {
		_ = c.timeline.SetRate(0, now)
	}
	c.setState(Stopped)
	if err := c.backend.Stop(); err != nil {
		return fmt.Errorf("stopping backend: %w", err)
	}
	return nil
}

// --- configuration ---

// UseMasterClock attaches the controller's timeline to a shared master
// clock (nil detaches it). Not allowed while playing.
func (c *Controller) UseMasterClock(master *MasterClock) error {
	c.lock()
	defer c.unlock()
	if c.state == Playing {
		return c.violation("use master clock")
	}
	c.anchor = master
	if c.timeline != nil {
		c.timeline.UseAnchor(master)
	}
	return nil
}

// Sets whether the clip should restart automatically at the end or not.
func (c *Controller) SetLooping(loop bool) {
	c.lock()
	c.looping = loop
	c.unlock()
}

// Gets whether the clip is configured to loop. See SetLooping().
func (c *Controller) Looping() bool {
	c.lock()
	defer c.unlock()
	return c.looping
}

// Close cancels all pending work, waits for the task goroutines to exit and
// closes the backend. The controller is unusable afterwards.
func (c *Controller) Close() error {
	c.lock()
	if c.closed {
		c.unlock()
		return nil
	}
	c.closed = true
	c.noLockCancelLoad()
	c.noLockCancelPreroll()
	c.deferred = nil
	c.cancel()
	c.setState(Idle)
	c.unlock()

	c.wg.Wait()
	return c.backend.Close()
}
