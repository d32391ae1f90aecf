// Package display drives one video plane: it turns caller buffers into
// frames, paces them onto a back end and hands them back once the display
// no longer needs them.
package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/logging"
	"github.com/bnema/vidrender/internal/pipeline"
)

var (
	ErrNotStarted     = errors.New("display: not started")
	ErrAlreadyStarted = errors.New("display: already started")
)

// Options tunes a Coordinator. Zero values select the back end's defaults.
type Options struct {
	// Logger is used when the logging registry has not been initialised.
	Logger *zerolog.Logger

	ImmediateOutput  bool
	KeepLastFrame    bool
	Pip              bool
	RecycleThreshold int
	QueueCapacity    int
	PosterPriority   int
	FenceTimeout     time.Duration
	IdleInterval     time.Duration
	RefreshRetry     time.Duration
}

// Stats is a snapshot of a coordinator's counters.
type Stats struct {
	Accepted        uint64
	Displayed       uint64
	Dropped         uint64
	Released        uint64
	ImportErrors    uint64
	FormatFallbacks uint64
	Poster          pipeline.PosterStats
	Recycler        pipeline.RecyclerStats
}

// Coordinator owns one back end and the poster/recycler pair feeding it.
// All methods are safe for concurrent use.
type Coordinator struct {
	backend backend.Backend
	caps    backend.Caps
	cb      Callbacks
	opts    Options

	// Optional capabilities, resolved once in New.
	flusher   backend.Flusher
	pauser    backend.Pauser
	windower  backend.WindowSetter
	cropper   backend.CropSetter
	rater     backend.RateSetter
	hider     backend.Hider
	keeper    backend.KeepLastFramer
	immediate backend.ImmediateSetter
	pipper    backend.PipSetter
	tunneler  backend.TunnelSetter

	handle *logging.Handle
	log    zerolog.Logger

	poster   *pipeline.Poster
	recycler *pipeline.Recycler

	// life is held shared by DisplayFrame and exclusively while the
	// started flag flips.
	life    sync.RWMutex
	started bool

	mu  sync.Mutex
	set settings

	accepted     atomic.Uint64
	displayed    atomic.Uint64
	dropped      atomic.Uint64
	released     atomic.Uint64
	importErrors atomic.Uint64
	fallbacks    atomic.Uint64
}

type settings struct {
	window      entity.Rect
	crop        entity.Rect
	frameSize   entity.FrameSize
	format      entity.PixelFormat
	rate        entity.Rational
	par         entity.AspectRatio
	pip         bool
	keepLast    bool
	hidden      bool
	immediate   bool
	forceAspect bool
	tunnelID    int
	output      int
}

// New binds a coordinator to b. The back end is not opened until Start.
func New(b backend.Backend, cb Callbacks, opts Options) *Coordinator {
	c := &Coordinator{
		backend: b,
		caps:    b.Caps(),
		cb:      cb,
		opts:    opts,
	}

	c.flusher, _ = b.(backend.Flusher)
	c.pauser, _ = b.(backend.Pauser)
	c.windower, _ = b.(backend.WindowSetter)
	c.cropper, _ = b.(backend.CropSetter)
	c.rater, _ = b.(backend.RateSetter)
	c.hider, _ = b.(backend.Hider)
	c.keeper, _ = b.(backend.KeepLastFramer)
	c.immediate, _ = b.(backend.ImmediateSetter)
	c.pipper, _ = b.(backend.PipSetter)
	c.tunneler, _ = b.(backend.TunnelSetter)

	if h, err := logging.Register("display"); err == nil {
		c.handle = h
		c.log = h.Logger().With().Str("backend", string(b.Kind())).Logger()
	} else if opts.Logger != nil {
		c.log = opts.Logger.With().Str("backend", string(b.Kind())).Logger()
	} else {
		c.log = zerolog.Nop()
	}

	c.set.immediate = opts.ImmediateOutput || c.caps.SelfPaced
	c.set.keepLast = opts.KeepLastFrame
	c.set.pip = opts.Pip

	threshold := opts.RecycleThreshold
	if threshold <= 0 {
		threshold = c.caps.RecycleThreshold
	}

	br := (*bridge)(c)
	c.recycler = pipeline.NewRecycler(br,
		pipeline.WithRecyclerLogger(c.log.With().Str("stage", "recycle").Logger()),
		pipeline.WithThreshold(threshold),
		pipeline.WithFenceTimeout(opts.FenceTimeout),
		pipeline.WithIdleInterval(opts.IdleInterval),
	)
	c.poster = pipeline.NewPoster(br, c.recycler,
		pipeline.WithPosterLogger(c.log.With().Str("stage", "post").Logger()),
		pipeline.WithPosterCapacity(opts.QueueCapacity),
		pipeline.WithPosterPriority(opts.PosterPriority),
		pipeline.WithRefreshRetry(opts.RefreshRetry),
	)
	return c
}

// ID returns the coordinator's logging instance id, empty when the logging
// registry was not initialised.
func (c *Coordinator) ID() string {
	if c.handle == nil {
		return ""
	}
	return c.handle.ID()
}

// Backend returns the back end this coordinator drives.
func (c *Coordinator) Backend() backend.Backend {
	return c.backend
}

// SetLogLevel changes the log level of this coordinator only.
func (c *Coordinator) SetLogLevel(level zerolog.Level) {
	if c.handle != nil {
		c.handle.SetLevel(level)
	}
}

// Start opens the back end, pushes the settings made so far to it, then
// starts the recycler and the poster.
func (c *Coordinator) Start(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}

	c.mu.Lock()
	set := c.set
	c.mu.Unlock()

	if c.pipper != nil {
		if err := c.pipper.SetPip(set.pip); err != nil {
			return fmt.Errorf("failed to select plane: %w", err)
		}
	}
	if c.tunneler != nil && set.tunnelID > 0 {
		if err := c.tunneler.SetTunnelID(set.tunnelID); err != nil {
			return fmt.Errorf("failed to select tunnel: %w", err)
		}
	}

	if err := c.backend.Open(ctx, (*bridge)(c)); err != nil {
		return fmt.Errorf("failed to open %s backend: %w", c.backend.Kind(), err)
	}
	// Compositor back ends only know their formats once connected.
	c.caps.Formats = c.backend.Caps().Formats

	c.applyStartSettings(set)

	c.poster.SetImmediatelyOutput(set.immediate)
	c.poster.SetWindowSize(set.window)

	if err := c.recycler.Start(); err != nil {
		_ = c.backend.Close()
		return fmt.Errorf("failed to start frame recycler: %w", err)
	}
	if err := c.poster.Start(); err != nil {
		_ = c.recycler.Stop()
		_ = c.backend.Close()
		return fmt.Errorf("failed to start frame poster: %w", err)
	}

	c.started = true
	c.log.Info().
		Dur("refresh", c.backend.RefreshInterval()).
		Bool("immediate", set.immediate).
		Msg("display started")
	return nil
}

func (c *Coordinator) applyStartSettings(set settings) {
	if set.window.Valid() && c.windower != nil {
		c.warnIf(c.windower.SetWindow(set.window), "set window")
	}
	if set.crop.Valid() && c.cropper != nil {
		c.warnIf(c.cropper.SetCrop(set.crop), "set crop")
	}
	if set.rate.FPS() > 0 && c.rater != nil {
		c.warnIf(c.rater.SetFrameRate(set.rate), "set frame rate")
	}
	if c.keeper != nil {
		c.warnIf(c.keeper.SetKeepLastFrame(set.keepLast), "set keep last frame")
	}
	if c.immediate != nil && set.immediate {
		c.warnIf(c.immediate.SetImmediateOutput(true), "set immediate output")
	}
	if set.hidden {
		c.warnIf(c.hide(true), "hide video")
	}
}

// Stop stops posting, drops whatever is still queued, releases whatever the
// display still holds and closes the back end. Stop on a coordinator that
// never started is a no-op.
func (c *Coordinator) Stop() error {
	c.life.Lock()
	if !c.started {
		c.life.Unlock()
		return nil
	}
	c.started = false
	c.life.Unlock()

	var errs []error
	if err := c.poster.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("stop frame poster: %w", err))
	}
	if err := c.recycler.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("stop frame recycler: %w", err))
	}

	c.mu.Lock()
	keep := c.set.keepLast
	c.mu.Unlock()
	if !keep {
		if err := c.backend.MutePlane(true); err != nil {
			c.log.Debug().Err(err).Msg("mute plane on stop failed")
		}
	}

	if err := c.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s backend: %w", c.backend.Kind(), err))
	}

	c.log.Info().
		Uint64("displayed", c.displayed.Load()).
		Uint64("dropped", c.dropped.Load()).
		Msg("display stopped")
	return errors.Join(errs...)
}

// Close stops the coordinator and releases its logging handle.
func (c *Coordinator) Close() error {
	err := c.Stop()
	c.handle.Close()
	return err
}

// Started reports whether Start succeeded and Stop has not run since.
func (c *Coordinator) Started() bool {
	c.life.RLock()
	defer c.life.RUnlock()
	return c.started
}

// DisplayFrame queues buf for presentation at displayTime (CLOCK_MONOTONIC).
// A nil error means the buffer is borrowed until HandleBufferRelease fires
// for it, which also covers import failures. A non-nil error means the
// buffer was not accepted and no callback will fire.
func (c *Coordinator) DisplayFrame(buf *entity.RenderBuffer, displayTime time.Duration) error {
	if buf == nil {
		return fmt.Errorf("display frame: nil buffer")
	}

	c.life.RLock()
	defer c.life.RUnlock()
	if !c.started {
		return ErrNotStarted
	}
	c.accepted.Add(1)

	format := buf.PixelFormat
	if format == entity.FormatUnknown {
		c.mu.Lock()
		format = c.set.format
		c.mu.Unlock()
	}
	fourcc, ok := c.caps.Formats.Lookup(format)
	if !ok {
		c.fallbacks.Add(1)
		c.log.Warn().
			Stringer("format", format).
			Stringer("fallback", fourcc).
			Msg("unsupported pixel format, using fallback")
	}

	desc, err := c.backend.Import(buf, fourcc)
	if err != nil {
		c.importErrors.Add(1)
		c.log.Error().Err(err).Int("buffer", buf.ID).Msg("import buffer failed")
		c.dropped.Add(1)
		c.cb.HandleFrameDropped(buf)
		c.released.Add(1)
		c.cb.HandleBufferRelease(buf)
		return nil
	}

	desc.PresentAt = displayTime
	f := &pipeline.Frame{Buffer: buf, DisplayTime: displayTime, Desc: desc}
	// A rejected frame has already been dropped and released by the poster.
	_ = c.poster.Enqueue(f)
	return nil
}

// Flush drops every queued frame and asks the back end to let go of
// buffers it holds but has not shown.
func (c *Coordinator) Flush() error {
	n := c.poster.Flush()
	c.log.Debug().Int("dropped", n).Msg("flush")
	if c.flusher != nil && c.Started() {
		return c.flusher.Flush()
	}
	return nil
}

// Pause stops presenting new frames. Calling it twice is harmless.
func (c *Coordinator) Pause() error {
	c.poster.Pause()
	if c.pauser != nil && c.Started() {
		return c.pauser.Pause()
	}
	return nil
}

// Resume undoes Pause.
func (c *Coordinator) Resume() error {
	c.poster.Resume()
	if c.pauser != nil && c.Started() {
		return c.pauser.Resume()
	}
	return nil
}

// SetWindowSize sets the destination rectangle for frames posted from now on.
func (c *Coordinator) SetWindowSize(r entity.Rect) error {
	c.mu.Lock()
	c.set.window = r
	c.mu.Unlock()

	c.poster.SetWindowSize(r)
	if c.windower != nil && r.Valid() && c.Started() {
		return c.windower.SetWindow(r)
	}
	return nil
}

// SetFrameSize records the decoded frame size.
func (c *Coordinator) SetFrameSize(size entity.FrameSize) {
	c.mu.Lock()
	c.set.frameSize = size
	c.mu.Unlock()
}

// SetVideoFormat records the negotiated pixel format.
func (c *Coordinator) SetVideoFormat(f entity.PixelFormat) {
	c.mu.Lock()
	c.set.format = f
	c.mu.Unlock()
}

// SetImmediatelyOutput switches between paced and as-soon-as-possible
// output. Self-paced back ends are always driven immediately.
func (c *Coordinator) SetImmediatelyOutput(on bool) error {
	on = on || c.caps.SelfPaced

	c.mu.Lock()
	c.set.immediate = on
	c.mu.Unlock()

	c.poster.SetImmediatelyOutput(on)
	if c.immediate != nil && c.Started() {
		return c.immediate.SetImmediateOutput(on)
	}
	return nil
}

// SetHideVideo hides or shows the video plane at once.
func (c *Coordinator) SetHideVideo(hide bool) error {
	c.mu.Lock()
	c.set.hidden = hide
	c.mu.Unlock()

	if !c.Started() {
		return nil
	}
	return c.hide(hide)
}

func (c *Coordinator) hide(hide bool) error {
	if c.hider != nil {
		return c.hider.SetHideVideo(hide)
	}
	return c.backend.MutePlane(hide)
}

// SetKeepLastFrame controls whether the last frame stays on screen after Stop.
func (c *Coordinator) SetKeepLastFrame(keep bool) error {
	c.mu.Lock()
	c.set.keepLast = keep
	c.mu.Unlock()

	if c.keeper != nil && c.Started() {
		return c.keeper.SetKeepLastFrame(keep)
	}
	return nil
}

// SetCrop selects the part of the source frame to show.
func (c *Coordinator) SetCrop(r entity.Rect) error {
	c.mu.Lock()
	c.set.crop = r
	c.mu.Unlock()

	if c.cropper != nil && r.Valid() && c.Started() {
		return c.cropper.SetCrop(r)
	}
	return nil
}

// SetFrameRate passes the stream's frame rate to back ends that use it.
func (c *Coordinator) SetFrameRate(r entity.Rational) error {
	c.mu.Lock()
	c.set.rate = r
	c.mu.Unlock()

	if c.rater != nil && r.FPS() > 0 && c.Started() {
		return c.rater.SetFrameRate(r)
	}
	return nil
}

// SetPip selects the secondary video plane. It only takes effect on the
// next Start.
func (c *Coordinator) SetPip(pip bool) {
	c.mu.Lock()
	c.set.pip = pip
	c.mu.Unlock()
}

// SetTunnelID selects the video tunnel instance. It only takes effect on
// the next Start.
func (c *Coordinator) SetTunnelID(id int) {
	c.mu.Lock()
	c.set.tunnelID = id
	c.mu.Unlock()
}

// Stats returns a snapshot of the coordinator and stage counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Accepted:        c.accepted.Load(),
		Displayed:       c.displayed.Load(),
		Dropped:         c.dropped.Load(),
		Released:        c.released.Load(),
		ImportErrors:    c.importErrors.Load(),
		FormatFallbacks: c.fallbacks.Load(),
		Poster:          c.poster.Stats(),
		Recycler:        c.recycler.Stats(),
	}
}

func (c *Coordinator) warnIf(err error, what string) {
	if err != nil {
		c.log.Warn().Err(err).Msg(what + " failed")
	}
}
