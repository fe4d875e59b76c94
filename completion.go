package avesync

import (
	"context"
	"sync"
	"time"
)

// A Completion is the result of an asynchronous controller operation, such
// as a load or a preroll. It resolves exactly once.
//
// Operations cancelled by [Controller.Stop] resolve with [ErrCancelled] so
// waiters don't hang, but their effects are never applied and their
// callbacks never run.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done is closed when the operation completes, fails or is cancelled.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the outcome once Done is closed, nil before that.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the operation resolves or the context ends.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve settles the completion. Only the first call has any effect.
func (c *Completion) resolve(err error) bool {
	resolved := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}

type taskKind uint8

const (
	taskLoad taskKind = iota
	taskPreroll
)

func (k taskKind) String() string {
	if k == taskLoad {
		return "load"
	}
	return "preroll"
}

// A task is a single-shot asynchronous operation owned by a controller. Its
// result is only applied while it's still the controller's pending task of
// its kind; replacing or cancelling it makes the result a no-op.
type task struct {
	kind       taskKind
	ctx        context.Context
	cancel     context.CancelFunc
	completion *Completion
	onReady    func()

	rate     float64       // preroll rate
	autoPlay bool          // start playing once primed
	synced   bool          // map item time 0 to syncAt instead of "now"
	syncAt   time.Duration // host time
}
