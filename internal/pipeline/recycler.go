package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/queue"
	"github.com/bnema/vidrender/internal/worker"
)

const (
	// DefaultRecycleThreshold keeps one frame on screen while the next one is
	// scanned out, as a double-buffered plane requires.
	DefaultRecycleThreshold = 2
	defaultFenceTimeout     = 100 * time.Millisecond
	defaultIdleInterval     = 8 * time.Millisecond
)

// RecyclerStats counts fence waits and releases.
type RecyclerStats struct {
	Pending       int
	Armed         bool
	FenceWaits    uint64
	FenceTimeouts uint64
	FenceErrors   uint64
	Released      uint64
}

// RecyclerOption configures a Recycler.
type RecyclerOption func(*Recycler)

// WithRecyclerLogger sets the logger used by the recycle loop.
func WithRecyclerLogger(l zerolog.Logger) RecyclerOption {
	return func(r *Recycler) { r.log = l }
}

// WithThreshold sets how many posted frames must accumulate before the
// oldest one is waited on.
func WithThreshold(n int) RecyclerOption {
	return func(r *Recycler) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// WithFenceTimeout bounds each fence wait.
func WithFenceTimeout(d time.Duration) RecyclerOption {
	return func(r *Recycler) {
		if d > 0 {
			r.fenceTimeout = d
		}
	}
}

// WithIdleInterval sets how long the loop sleeps while not armed.
func WithIdleInterval(d time.Duration) RecyclerOption {
	return func(r *Recycler) {
		if d > 0 {
			r.idle = d
		}
	}
}

// Recycler returns posted buffers to their owner once the display has
// finished reading them.
type Recycler struct {
	rel          Releaser
	log          zerolog.Logger
	threshold    int
	fenceTimeout time.Duration
	idle         time.Duration

	mu      sync.Mutex
	queue   *queue.Queue[*Frame]
	running bool
	armed   bool
	ctx     context.Context
	cancel  context.CancelFunc

	kick chan struct{}
	w    *worker.Worker

	fenceWaits    atomic.Uint64
	fenceTimeouts atomic.Uint64
	fenceErrors   atomic.Uint64
	released      atomic.Uint64
}

// NewRecycler creates a stopped Recycler.
func NewRecycler(rel Releaser, opts ...RecyclerOption) *Recycler {
	r := &Recycler{
		rel:          rel,
		log:          zerolog.Nop(),
		threshold:    DefaultRecycleThreshold,
		fenceTimeout: defaultFenceTimeout,
		idle:         defaultIdleInterval,
		queue:        queue.New[*Frame](),
		kick:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.w = worker.New(worker.Funcs{Loop: r.loop})
	return r
}

// Start launches the recycle loop.
func (r *Recycler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return worker.ErrAlreadyRunning
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	if err := r.w.Run("vr-frame-recycle"); err != nil {
		r.cancel()
		return err
	}
	r.running = true
	return nil
}

// Stop cancels a pending fence wait, joins the loop and releases every frame
// still held without waiting on its fence.
func (r *Recycler) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.drain()
		return ErrNotRunning
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	err := r.w.RequestExitAndWait()
	n := r.drain()
	r.log.Debug().Int("released", n).Msg("frame recycler stopped")
	return err
}

func (r *Recycler) drain() int {
	r.mu.Lock()
	r.armed = false
	var frames []*Frame
	r.queue.Drain(func(f *Frame) { frames = append(frames, f) })
	r.mu.Unlock()

	for _, f := range frames {
		r.release(f)
	}
	return len(frames)
}

// Enqueue takes ownership of a posted frame. A frame arriving while the
// recycler is stopped is released at once.
func (r *Recycler) Enqueue(f *Frame) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.release(f)
		return
	}
	_ = r.queue.TryPush(f)
	if !r.armed && r.queue.Len() >= r.threshold {
		r.armed = true
		r.log.Debug().Int("threshold", r.threshold).Msg("fence wait armed")
	}
	r.mu.Unlock()

	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the counters.
func (r *Recycler) Stats() RecyclerStats {
	r.mu.Lock()
	armed := r.armed
	r.mu.Unlock()
	return RecyclerStats{
		Pending:       r.queue.Len(),
		Armed:         armed,
		FenceWaits:    r.fenceWaits.Load(),
		FenceTimeouts: r.fenceTimeouts.Load(),
		FenceErrors:   r.fenceErrors.Load(),
		Released:      r.released.Load(),
	}
}

func (r *Recycler) loop() bool {
	r.mu.Lock()
	ctx := r.ctx
	ready := r.armed && r.queue.Len() >= r.threshold
	r.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	if !ready {
		t := time.NewTimer(r.idle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-r.kick:
		case <-t.C:
		}
		return true
	}

	f, err := r.queue.TryPop()
	if err != nil {
		return true
	}

	r.fenceWaits.Add(1)
	fctx, cancel := context.WithTimeout(ctx, r.fenceTimeout)
	err = r.rel.WaitFence(fctx, f)
	cancel()

	switch {
	case err == nil:
	case ctx.Err() != nil:
		r.log.Debug().Stringer("frame", f).Msg("fence wait cancelled by stop")
	case errors.Is(err, context.DeadlineExceeded):
		r.fenceTimeouts.Add(1)
		r.log.Warn().Stringer("frame", f).Dur("timeout", r.fenceTimeout).Msg("fence wait timed out")
	default:
		r.fenceErrors.Add(1)
		r.log.Warn().Err(err).Stringer("frame", f).Msg("fence wait failed")
	}

	r.release(f)
	return true
}

func (r *Recycler) release(f *Frame) {
	r.released.Add(1)
	r.rel.FrameReleased(f)
}
