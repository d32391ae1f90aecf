package drm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/domain/entity"
)

const defaultRefreshRate = 60

// Config selects the device and plane.
type Config struct {
	Device      string
	Connector   Connector
	Pip         bool
	RefreshRate int // Hz, used until the mode is known
}

// Option overrides how the back end reaches the hardware.
type Option func(*Backend)

// WithLib uses lib instead of loading libdrm_meson.
func WithLib(lib Lib) Option {
	return func(b *Backend) { b.loadLib = func() (Lib, error) { return lib, nil } }
}

// WithCard uses card instead of opening the device node.
func WithCard(card Card) Option {
	return func(b *Backend) { b.openCard = func(string) (Card, error) { return card, nil } }
}

// WithLibraryPath loads the vendor library from path instead of searching
// for it. An empty path keeps the search.
func WithLibraryPath(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.loadLib = func() (Lib, error) { return LoadLibPath(path) }
		}
	}
}

// WithLogger sets the back end logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// Backend implements backend.Backend on a Meson video plane.
type Backend struct {
	cfg      Config
	log      zerolog.Logger
	loadLib  func() (Lib, error)
	openCard func(string) (Card, error)

	mu       sync.Mutex
	lib      Lib
	card     Card
	disp     Handle
	mode     Mode
	interval time.Duration
	pip      bool

	// fenceCalls counts vendor fence waits in flight. A Close that finds
	// some hands the library to unload and the last call closes it.
	fenceCalls int
	unload     Lib
}

var (
	_ backend.Backend   = (*Backend)(nil)
	_ backend.PipSetter = (*Backend)(nil)
)

// New creates a closed DRM back end.
func New(cfg Config, opts ...Option) *Backend {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = defaultRefreshRate
	}
	b := &Backend{
		cfg:      cfg,
		log:      zerolog.Nop(),
		loadLib:  LoadLib,
		openCard: OpenCard,
		pip:      cfg.Pip,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.interval = refreshInterval(cfg.RefreshRate)
	return b
}

// refreshInterval rounds 1s/hz to the microsecond.
func refreshInterval(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration((1_000_000+hz/2)/hz) * time.Microsecond
}

func (b *Backend) Kind() backend.Kind { return backend.KindDRM }

func (b *Backend) Caps() backend.Caps {
	return backend.Caps{
		RecycleThreshold: 2,
		Formats: backend.FormatTable{
			Formats:  Formats,
			Fallback: entity.FourccYUYV,
		},
	}
}

// SetPip selects VD2 instead of VD1 for buffers imported from now on.
func (b *Backend) SetPip(pip bool) error {
	b.mu.Lock()
	b.pip = pip
	b.mu.Unlock()
	return nil
}

func (b *Backend) Open(ctx context.Context, _ backend.Events) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lib != nil {
		return nil
	}

	lib, err := b.loadLib()
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	card, err := b.openCard(b.cfg.Device)
	if err != nil {
		_ = lib.Close()
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	disp, err := lib.DisplayInit()
	if err != nil {
		_ = card.Close()
		_ = lib.Close()
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}

	b.lib, b.card, b.disp = lib, card, disp

	mode, err := lib.ModeInfo(card.Fd(), b.cfg.Connector)
	if err != nil {
		b.log.Warn().Err(err).Int("refresh", b.cfg.RefreshRate).Msg("mode unknown, using default refresh rate")
	} else {
		b.mode = mode
		if iv := refreshInterval(mode.Refresh); iv > 0 {
			b.interval = iv
		}
	}

	if err := lib.SetPlaneMute(card.Fd(), PlaneVideo, false); err != nil {
		b.log.Debug().Err(err).Msg("unmute video plane failed")
	}

	b.log.Info().
		Str("device", b.cfg.Device).
		Str("mode", b.mode.Name).
		Int("width", b.mode.Width).
		Int("height", b.mode.Height).
		Dur("interval", b.interval).
		Bool("pip", b.pip).
		Msg("drm display opened")
	return nil
}

// Close destroys the display and closes the card at once. The library stays
// loaded until the last vendor fence wait still running has returned.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lib == nil {
		return nil
	}
	lib := b.lib
	lib.DestroyDisplay(b.disp)
	err := b.card.Close()
	b.lib, b.card, b.disp = nil, nil, 0

	if b.fenceCalls > 0 {
		b.log.Debug().Int("fence_calls", b.fenceCalls).Msg("library unload deferred to pending fence waits")
		b.unload = lib
		return err
	}
	return errors.Join(err, lib.Close())
}

func (b *Backend) fenceCallDone() {
	b.mu.Lock()
	b.fenceCalls--
	var lib Lib
	if b.fenceCalls == 0 {
		lib, b.unload = b.unload, nil
	}
	b.mu.Unlock()

	if lib != nil {
		if err := lib.Close(); err != nil {
			b.log.Warn().Err(err).Msg("deferred library unload failed")
		}
	}
}

func (b *Backend) opened() (Lib, Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lib == nil {
		return nil, 0, backend.ErrNotOpen
	}
	return b.lib, b.disp, nil
}

func (b *Backend) Import(buf *entity.RenderBuffer, format entity.Fourcc) (*backend.Buffer, error) {
	lib, disp, err := b.opened()
	if err != nil {
		return nil, err
	}

	desc, err := backend.NewBuffer(buf, format)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	flags := FlagVD1
	if b.pip {
		flags = FlagVD2
	}
	b.mu.Unlock()

	fds := make([]int, len(desc.Planes))
	for i, p := range desc.Planes {
		fds[i] = p.Fd
	}
	h, err := lib.ImportBuf(disp, ImportInfo{
		Width:  desc.Width,
		Height: desc.Height,
		Fourcc: format,
		Flags:  flags,
		Fds:    fds,
	})
	if err != nil {
		_ = desc.Close()
		return nil, err
	}

	desc.Flags = flags
	desc.Native = h
	return desc, nil
}

// Free releases the vendor buffer, which also closes the duplicated plane
// descriptors.
func (b *Backend) Free(desc *backend.Buffer) error {
	h, ok := desc.Native.(BufHandle)
	if !ok {
		return desc.Close()
	}

	b.mu.Lock()
	lib := b.lib
	b.mu.Unlock()
	if lib == nil {
		return desc.Close()
	}

	desc.Disown()
	desc.Native = nil
	return lib.FreeBuf(h)
}

func (b *Backend) Post(_ context.Context, desc *backend.Buffer) error {
	lib, disp, err := b.opened()
	if err != nil {
		return err
	}
	h, ok := desc.Native.(BufHandle)
	if !ok {
		return backend.ErrUnknownBuffer
	}

	crtc := desc.Destination()
	if !crtc.Valid() {
		crtc = b.Geometry()
		if !crtc.Valid() {
			crtc = entity.Rect{W: -1, H: -1}
		}
	}
	lib.SetRects(h, desc.Src, crtc)
	return lib.PostBuf(disp, h)
}

// WaitFence waits on a private duplicate of the first plane so the wait
// stays valid if the buffer is freed after ctx ends.
func (b *Backend) WaitFence(ctx context.Context, desc *backend.Buffer) error {
	fd0 := desc.Fd(0)
	if fd0 < 0 {
		b.mu.Lock()
		open := b.lib != nil
		b.mu.Unlock()
		if !open {
			return backend.ErrNotOpen
		}
		return nil
	}
	fd, err := unix.FcntlInt(uintptr(fd0), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("dup fence fd: %w", err)
	}

	b.mu.Lock()
	lib := b.lib
	if lib != nil {
		b.fenceCalls++
	}
	b.mu.Unlock()
	if lib == nil {
		_ = unix.Close(fd)
		return backend.ErrNotOpen
	}

	// The call cannot be interrupted; on cancel it finishes in the
	// background on its own descriptor.
	done := make(chan error, 1)
	go func() {
		defer b.fenceCallDone()
		defer unix.Close(fd)
		done <- lib.WaitVideoFence(fd)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (b *Backend) WaitRefresh(ctx context.Context) (time.Duration, error) {
	b.mu.Lock()
	card := b.card
	b.mu.Unlock()
	if card == nil {
		return 0, backend.ErrNotOpen
	}
	return card.WaitVBlank(ctx)
}

func (b *Backend) RefreshInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

func (b *Backend) Geometry() entity.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return entity.Rect{W: b.mode.Width, H: b.mode.Height}
}

func (b *Backend) MutePlane(mute bool) error {
	b.mu.Lock()
	lib, card := b.lib, b.card
	b.mu.Unlock()
	if lib == nil {
		return backend.ErrNotOpen
	}
	return lib.SetPlaneMute(card.Fd(), PlaneVideo, mute)
}

// Mode returns the display mode read at Open.
func (b *Backend) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}
