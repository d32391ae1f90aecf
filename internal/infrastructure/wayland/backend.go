package wayland

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/clock"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/worker"
)

const defaultRefreshRate = 60

// Option overrides how the back end reaches the compositor.
type Option func(*Backend)

// WithConnector replaces the socket connection, mainly for tests.
func WithConnector(c Connector) Option {
	return func(b *Backend) { b.connect = c }
}

// WithDisplay connects to the named socket (or absolute path) instead of
// WAYLAND_DISPLAY. An empty name keeps the default.
func WithDisplay(name string) Option {
	return func(b *Backend) {
		if name != "" {
			b.connect = func(l Listener) (Compositor, error) { return Dial(displayPath(name), l, b.log) }
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// Backend implements backend.Backend as a Wayland client. Frame callbacks
// give the refresh tick and wl_buffer.release events serve as fences.
type Backend struct {
	log     zerolog.Logger
	connect Connector

	mu       sync.Mutex
	comp     Compositor
	events   backend.Events
	output   Output
	interval time.Duration
	buffers  map[uint32]*backend.Buffer
	firstPts int64
	first    bool

	ticks      chan time.Duration
	releases   *backend.ReleaseTracker
	dispatcher *worker.Worker
}

var _ backend.Backend = (*Backend)(nil)

// New creates a disconnected Wayland back end.
func New(opts ...Option) *Backend {
	b := &Backend{
		log:      zerolog.Nop(),
		interval: time.Second / defaultRefreshRate,
		buffers:  make(map[uint32]*backend.Buffer),
		firstPts: -1,
		ticks:    make(chan time.Duration, 1),
		releases: backend.NewReleaseTracker(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.connect == nil {
		b.connect = func(l Listener) (Compositor, error) { return Connect(l, b.log) }
	}
	b.dispatcher = worker.New(worker.Funcs{Loop: b.dispatchStep})
	return b
}

func (b *Backend) Kind() backend.Kind { return backend.KindWayland }

// Caps narrows the format table to what the compositor advertised once
// connected.
func (b *Backend) Caps() backend.Caps {
	b.mu.Lock()
	var advertised []entity.Fourcc
	if b.comp != nil {
		advertised = b.comp.Formats()
	}
	b.mu.Unlock()
	return backend.Caps{
		RecycleThreshold: 2,
		Formats:          formatTable(advertised),
	}
}

func (b *Backend) Open(_ context.Context, events backend.Events) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.comp != nil {
		return nil
	}

	comp, err := b.connect((*listener)(b))
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	b.comp, b.events = comp, events
	b.output = comp.Output()
	if iv := b.output.Interval(); iv > 0 {
		b.interval = iv
	}
	b.firstPts, b.first = -1, false

	if err := b.dispatcher.Run("vr-wl-dispatch"); err != nil {
		b.comp = nil
		_ = comp.Close()
		return err
	}

	b.log.Info().
		Int("width", b.output.Width).
		Int("height", b.output.Height).
		Dur("interval", b.interval).
		Int("formats", len(comp.Formats())).
		Msg("connected to compositor")
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	comp := b.comp
	b.mu.Unlock()
	if comp == nil {
		return nil
	}

	comp.Interrupt()
	errJoin := b.dispatcher.RequestExitAndWait()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.comp = nil
	clear(b.buffers)
	b.releases.ResolveAll()
	return errors.Join(errJoin, comp.Close())
}

func (b *Backend) opened() (Compositor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.comp == nil {
		return nil, backend.ErrNotOpen
	}
	return b.comp, nil
}

// Import wraps the planes in a wl_buffer; Native holds its object id.
func (b *Backend) Import(buf *entity.RenderBuffer, format entity.Fourcc) (*backend.Buffer, error) {
	comp, err := b.opened()
	if err != nil {
		return nil, err
	}
	desc, err := backend.NewBuffer(buf, format)
	if err != nil {
		return nil, err
	}
	id, err := comp.CreateBuffer(desc)
	if err != nil {
		_ = desc.Close()
		return nil, fmt.Errorf("create wl_buffer for %d: %w", buf.ID, err)
	}
	desc.Native = id

	b.mu.Lock()
	b.buffers[id] = desc
	b.mu.Unlock()
	return desc, nil
}

func bufferID(desc *backend.Buffer) (uint32, error) {
	id, ok := desc.Native.(uint32)
	if !ok {
		return 0, backend.ErrUnknownBuffer
	}
	return id, nil
}

func (b *Backend) Free(desc *backend.Buffer) error {
	id, idErr := bufferID(desc)
	var destroyErr error
	if idErr == nil {
		b.mu.Lock()
		comp := b.comp
		delete(b.buffers, id)
		b.mu.Unlock()
		if comp != nil {
			destroyErr = comp.DestroyBuffer(id)
		}
	}
	b.releases.Resolve(desc.ID)
	return errors.Join(destroyErr, desc.Close())
}

func (b *Backend) Post(_ context.Context, desc *backend.Buffer) error {
	comp, err := b.opened()
	if err != nil {
		return err
	}
	id, err := bufferID(desc)
	if err != nil {
		return err
	}

	b.releases.Track(desc.ID)
	if err := comp.Present(id, desc.Destination()); err != nil {
		b.releases.Resolve(desc.ID)
		return fmt.Errorf("present buffer %d: %w", desc.ID, err)
	}

	b.mu.Lock()
	if b.firstPts < 0 {
		b.firstPts = desc.Pts
	}
	b.mu.Unlock()
	return nil
}

// WaitFence waits for the compositor to release desc.
func (b *Backend) WaitFence(ctx context.Context, desc *backend.Buffer) error {
	return b.releases.Wait(ctx, desc.ID)
}

// WaitRefresh returns on the next frame callback. Compositors only send
// one after a commit, so an idle surface falls back to a timer.
func (b *Backend) WaitRefresh(ctx context.Context) (time.Duration, error) {
	t := time.NewTimer(b.RefreshInterval())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case at := <-b.ticks:
		return at, nil
	case <-t.C:
		return clock.Now(), nil
	}
}

func (b *Backend) RefreshInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

func (b *Backend) Geometry() entity.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return entity.Rect{W: b.output.Width, H: b.output.Height}
}

// MutePlane detaches the buffer from the surface. Unmuting waits for the
// next Post.
func (b *Backend) MutePlane(mute bool) error {
	if !mute {
		return nil
	}
	comp, err := b.opened()
	if err != nil {
		return err
	}
	return comp.Clear()
}

func (b *Backend) dispatchStep() bool {
	b.mu.Lock()
	comp := b.comp
	b.mu.Unlock()
	if comp == nil {
		return false
	}

	err := comp.Dispatch()
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrClosed):
		return false
	case errors.Is(err, io.EOF):
		b.log.Warn().Msg("compositor hung up")
	default:
		b.log.Error().Err(err).Msg("dispatch failed")
	}
	b.releases.ResolveAll()
	return false
}

// listener receives compositor events on the dispatch goroutine.
type listener Backend

func (l *listener) BufferReleased(id uint32) {
	b := (*Backend)(l)
	b.mu.Lock()
	desc, ok := b.buffers[id]
	b.mu.Unlock()
	if !ok {
		b.log.Trace().Uint32("buffer", id).Msg("release for unknown buffer")
		return
	}
	b.releases.Resolve(desc.ID)
}

func (l *listener) FrameDone(at time.Duration) {
	b := (*Backend)(l)

	select {
	case b.ticks <- at:
	default:
		// Keep only the newest tick.
		select {
		case <-b.ticks:
		default:
		}
		select {
		case b.ticks <- at:
		default:
		}
	}

	b.mu.Lock()
	notify := b.firstPts >= 0 && !b.first
	if notify {
		b.first = true
	}
	pts, events := b.firstPts, b.events
	b.mu.Unlock()
	if notify && events != nil {
		b.log.Info().Int64("pts", pts).Msg("first frame presented")
		events.Notify(entity.MsgFirstFrame, pts)
	}
}
