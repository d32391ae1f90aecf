package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/queue"
	"github.com/bnema/vidrender/internal/worker"
)

const (
	defaultRefreshRetry  = 4 * time.Millisecond
	fallbackTickInterval = 16 * time.Millisecond
)

// PosterState is the externally visible state of a Poster.
type PosterState int

const (
	PosterStopped PosterState = iota
	PosterRunning
	PosterPaused
)

func (s PosterState) String() string {
	switch s {
	case PosterRunning:
		return "running"
	case PosterPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// PosterStats counts what happened to frames handed to the Poster.
type PosterStats struct {
	Queued     int
	Posted     uint64
	Dropped    uint64
	PostErrors uint64
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithPosterLogger sets the logger used by the scheduling loop.
func WithPosterLogger(l zerolog.Logger) PosterOption {
	return func(p *Poster) { p.log = l }
}

// WithRefreshRetry sets the pause after a failed refresh wait.
func WithRefreshRetry(d time.Duration) PosterOption {
	return func(p *Poster) {
		if d > 0 {
			p.refreshRetry = d
		}
	}
}

// WithPosterCapacity bounds the pacing queue. Frames beyond it are dropped.
func WithPosterCapacity(n int) PosterOption {
	return func(p *Poster) { p.capacity = n }
}

// WithPosterPriority runs the loop thread at the given SCHED_FIFO priority.
func WithPosterPriority(prio int) PosterOption {
	return func(p *Poster) { p.priority = prio }
}

// Poster picks, once per refresh tick, the frame that should be on screen and
// posts it. Frames whose deadline has passed but that were overtaken by a
// newer frame in the same tick are dropped.
type Poster struct {
	display  Display
	sink     FrameSink
	log      zerolog.Logger
	capacity int
	priority int

	refreshRetry time.Duration

	// mu guards the queue contents together with paused, immediate and
	// winRect so that a tick, a flush and a rect update never interleave.
	mu        sync.Mutex
	queue     *queue.Queue[*Frame]
	running   bool
	paused    bool
	immediate bool
	winRect   entity.Rect
	ctx       context.Context
	cancel    context.CancelFunc

	kick chan struct{}
	w    *worker.Worker

	posted     atomic.Uint64
	dropped    atomic.Uint64
	postErrors atomic.Uint64
}

// NewPoster creates a stopped Poster posting to d and handing posted frames to sink.
func NewPoster(d Display, sink FrameSink, opts ...PosterOption) *Poster {
	p := &Poster{
		display:      d,
		sink:         sink,
		log:          zerolog.Nop(),
		refreshRetry: defaultRefreshRetry,
		kick:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = queue.New(queue.WithCapacity[*Frame](p.capacity))

	var wopts []worker.Option
	if p.priority > 0 {
		wopts = append(wopts, worker.WithPriority(p.priority))
	}
	p.w = worker.New(worker.Funcs{Loop: p.loop}, wopts...)
	return p
}

// Start launches the scheduling loop.
func (p *Poster) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return worker.ErrAlreadyRunning
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if err := p.w.Run("vr-frame-post"); err != nil {
		p.cancel()
		return err
	}
	p.running = true
	p.log.Debug().Msg("frame poster started")
	return nil
}

// Stop cancels any blocked refresh wait, joins the loop, then drops every
// frame still queued.
func (p *Poster) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.Flush()
		return ErrNotRunning
	}
	p.running = false
	p.paused = false
	p.cancel()
	p.mu.Unlock()

	err := p.w.RequestExitAndWait()
	n := p.Flush()
	p.log.Debug().Int("flushed", n).Msg("frame poster stopped")
	return err
}

// Enqueue appends f to the pacing queue. It never blocks beyond the poster
// lock. A frame that cannot be queued is dropped and the error returned.
func (p *Poster) Enqueue(f *Frame) error {
	p.mu.Lock()
	err := p.queue.TryPush(f)
	p.mu.Unlock()

	if err != nil {
		p.log.Warn().Err(err).Stringer("frame", f).Msg("pacing queue rejected frame")
		p.drop(f)
		return err
	}

	select {
	case p.kick <- struct{}{}:
	default:
	}
	return nil
}

// Flush drops every queued frame and returns how many there were.
func (p *Poster) Flush() int {
	var frames []*Frame
	p.mu.Lock()
	p.queue.Drain(func(f *Frame) { frames = append(frames, f) })
	p.mu.Unlock()

	for _, f := range frames {
		p.drop(f)
	}
	return len(frames)
}

// Pause stops posting without touching the queue.
func (p *Poster) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume undoes Pause.
func (p *Poster) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// SetWindowSize sets the destination applied to every frame posted from the
// next tick on. A zero-sized rect clears the override.
func (p *Poster) SetWindowSize(r entity.Rect) {
	p.mu.Lock()
	p.winRect = r
	p.mu.Unlock()
}

// SetImmediatelyOutput switches between paced and as-soon-as-possible output.
func (p *Poster) SetImmediatelyOutput(on bool) {
	p.mu.Lock()
	p.immediate = on
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// State reports Stopped, Running or Paused.
func (p *Poster) State() PosterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.running:
		return PosterStopped
	case p.paused:
		return PosterPaused
	default:
		return PosterRunning
	}
}

// Stats returns a snapshot of the counters.
func (p *Poster) Stats() PosterStats {
	return PosterStats{
		Queued:     p.queue.Len(),
		Posted:     p.posted.Load(),
		Dropped:    p.dropped.Load(),
		PostErrors: p.postErrors.Load(),
	}
}

func (p *Poster) loop() bool {
	p.mu.Lock()
	ctx := p.ctx
	immediate := p.immediate
	p.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	if immediate {
		if !p.waitKick(ctx) {
			return false
		}
		p.Tick(ctx, 0)
		return true
	}

	vblank, err := p.display.WaitRefresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.log.Error().Err(err).Msg("refresh wait failed")
		return sleepCtx(ctx, p.refreshRetry)
	}

	p.Tick(ctx, vblank)
	return true
}

// waitKick blocks until a frame is queued, the mode changes, or one refresh
// interval passes.
func (p *Poster) waitKick(ctx context.Context) bool {
	if !p.queue.IsEmpty() {
		return true
	}
	interval := p.display.RefreshInterval()
	if interval <= 0 {
		interval = fallbackTickInterval
	}
	t := time.NewTimer(interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-p.kick:
	case <-t.C:
	}
	return true
}

// Tick runs one scheduling pass for the refresh tick at vblank.
func (p *Poster) Tick(ctx context.Context, vblank time.Duration) {
	var (
		candidate *Frame
		stale     []*Frame
	)

	p.mu.Lock()
	if p.paused || p.queue.IsEmpty() {
		p.mu.Unlock()
		return
	}

	if p.immediate {
		candidate, _ = p.queue.TryPop()
	} else {
		deadline := vblank + p.display.RefreshInterval()
		for {
			head, err := p.queue.Peek(0)
			if err != nil || head.DisplayTime > deadline {
				break
			}
			_, _ = p.queue.TryPop()
			if candidate != nil {
				stale = append(stale, candidate)
			}
			candidate = head
		}
	}

	if candidate != nil && p.winRect.Valid() && candidate.Desc != nil {
		candidate.Desc.SetDestination(p.winRect)
	}
	p.mu.Unlock()

	for _, f := range stale {
		p.log.Debug().
			Stringer("frame", f).
			Dur("vblank", vblank).
			Msg("drop late frame")
		p.drop(f)
	}

	if candidate == nil {
		return
	}

	if err := p.display.PostFrame(ctx, candidate); err != nil {
		p.postErrors.Add(1)
		p.log.Error().Err(err).Stringer("frame", candidate).Msg("post frame failed")
		p.drop(candidate)
		return
	}

	p.posted.Add(1)
	p.log.Trace().Stringer("frame", candidate).Dur("vblank", vblank).Msg("frame posted")
	p.display.FrameDisplayed(candidate)
	p.sink.Enqueue(candidate)
}

func (p *Poster) drop(f *Frame) {
	p.dropped.Add(1)
	p.display.FrameDropped(f)
}
