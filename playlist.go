package avesync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPlaylistLead is the lead time given to the controllers of a group
// between the end of its loads and its synchronized start.
const DefaultPlaylistLead = 250 * time.Millisecond

var ErrEmptyPlaylist = errors.New("playlist has no clips")

// PlaylistOptions configure a [Playlist].
type PlaylistOptions struct {
	Clock       HostClock    // defaults to SystemClock
	Master      *MasterClock // attached to every controller when not nil
	DefaultRate float64
	Metrics     *Metrics

	// Start over with the first group after the last one.
	Loop bool

	// Time between the end of the loads of a group and its start. Zero
	// means [DefaultPlaylistLead]. Groups that need no load start right
	// where the previous one ended.
	Lead time.Duration

	// Invoked once a group has been started, with its index and the host
	// time its item time zero falls on.
	GroupStarted func(index int, at time.Duration)

	// Invoked when the last group played to the end and the playlist
	// doesn't loop.
	Finished func(at time.Duration)
}

// A Playlist plays a sequence of clip groups. The clips of a group play side
// by side, one controller each, started on the same host instant. Once all
// of them played to the end the next group starts, all together again.
//
// Controllers are reused across groups: controller i plays the i-th clip of
// every group, and is only reloaded when its source changes. Controllers
// without a clip in the current group are stopped.
type Playlist struct {
	mutex       sync.Mutex
	groups      [][]string
	controllers []*Controller
	clock       HostClock
	opts        PlaylistOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	current    int
	generation int      // bumped on every group change
	sources    []string // source loaded by each controller
	ended      []bool   // controllers of the current group that played to the end
	end        time.Duration
}

// NewPlaylist creates the controllers needed by the groups, one backend
// each. Nothing is loaded until [Playlist.Start].
func NewPlaylist(groups [][]string, newBackend func() Backend, opts PlaylistOptions) (*Playlist, error) {
	size := 0
	for i, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: group %d is empty", ErrEmptyPlaylist, i)
		}
		size = max(size, len(group))
	}
	if size == 0 {
		return nil, ErrEmptyPlaylist
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Lead <= 0 {
		opts.Lead = DefaultPlaylistLead
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Playlist{
		groups:  groups,
		clock:   opts.Clock,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		sources: make([]string, size),
		ended:   make([]bool, size),
	}
	for i := range size {
		c := NewController(newBackend(), Options{
			Clock:       opts.Clock,
			DefaultRate: opts.DefaultRate,
			Metrics:     opts.Metrics,
			Hooks: Hooks{
				PlayedToEnd: func(at time.Duration) { p.playedToEnd(i, at) },
			},
		})
		if opts.Master != nil {
			if err := c.UseMasterClock(opts.Master); err != nil {
				cancel()
				return nil, err
			}
		}
		p.controllers = append(p.controllers, c)
	}
	return p, nil
}

// Controllers returns all the controllers of the playlist, for rendering.
func (p *Playlist) Controllers() []*Controller {
	return slices.Clone(p.controllers)
}

// Active returns the controllers playing the current group.
func (p *Playlist) Active() []*Controller {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return slices.Clone(p.controllers[:len(p.groups[p.current])])
}

// Group returns the index of the current group.
func (p *Playlist) Group() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

// Start loads the first group and starts it once all its clips are loaded.
// It blocks until then.
func (p *Playlist) Start(ctx context.Context) error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return ErrClosed
	}
	p.generation++
	gen := p.generation
	p.mutex.Unlock()

	return p.startGroup(ctx, gen, 0, p.clock.Now(), true)
}

// playedToEnd runs on the goroutine polling controller i.
func (p *Playlist) playedToEnd(i int, at time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed || i >= len(p.groups[p.current]) || p.ended[i] {
		return
	}
	p.ended[i] = true
	p.end = max(p.end, at)
	for _, ended := range p.ended[:len(p.groups[p.current])] {
		if !ended {
			return
		}
	}

	next := p.current + 1
	if next == len(p.groups) {
		if !p.opts.Loop {
			debugf("playlist finished at %v", p.end)
			if fn := p.opts.Finished; fn != nil {
				end := p.end
				p.spawn(func() { fn(end) })
			}
			return
		}
		next = 0
	}
	p.generation++
	gen, end := p.generation, p.end
	p.spawn(func() {
		if err := p.startGroup(p.ctx, gen, next, end, false); err != nil && !errors.Is(err, context.Canceled) {
			warnf("playlist: starting group %d: %v", next, err)
		}
	})
}

func (p *Playlist) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// startGroup loads the sources of a group that changed, then starts all
// its controllers on one host instant, no earlier than notBefore.
func (p *Playlist) startGroup(ctx context.Context, gen, index int, notBefore time.Duration, first bool) error {
	group := p.groups[index]

	g, gctx := errgroup.WithContext(ctx)
	loaded := false
	for i, source := range group {
		if !first && p.loadedSource(i) == source {
			continue
		}
		loaded = true
		c := p.controllers[i]
		p.setLoadedSource(i, "")
		g.Go(func() error {
			completion, err := c.Load(source)
			if err != nil {
				return err
			}
			if err := completion.Wait(gctx); err != nil {
				return err
			}
			p.setLoadedSource(i, source)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mutex.Lock()
	if p.closed || gen != p.generation {
		p.mutex.Unlock()
		return context.Canceled
	}
	start := notBefore
	if loaded {
		start = max(start, p.clock.Now()+p.opts.Lead)
	}
	p.current = index
	p.end = 0
	clear(p.ended)
	p.mutex.Unlock()

	for i, c := range p.controllers {
		if i >= len(group) {
			if err := c.Stop(); err != nil {
				warnf("playlist: stopping controller %d: %v", i, err)
			}
			continue
		}
		if err := c.PlayAt(start); err != nil {
			return err
		}
	}
	debugf("playlist: group %d starts at %v", index, start)
	if fn := p.opts.GroupStarted; fn != nil {
		fn(index, start)
	}
	return nil
}

func (p *Playlist) loadedSource(i int) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.sources[i]
}

func (p *Playlist) setLoadedSource(i int, source string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sources[i] = source
}

// Close stops advancing through the playlist and closes every controller.
func (p *Playlist) Close() error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	p.mutex.Unlock()

	var errs []error
	for _, c := range p.controllers {
		errs = append(errs, c.Close())
	}
	p.wg.Wait()
	return errors.Join(errs...)
}
