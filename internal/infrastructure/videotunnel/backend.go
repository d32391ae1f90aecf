package videotunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/clock"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/worker"
)

const (
	// DefaultUnderflowExpiry is how long the tunnel may run dry after the
	// last queued frame before an underflow is reported.
	DefaultUnderflowExpiry = 83 * time.Millisecond
	// DefaultFenceTimeout bounds the wait on a dequeued buffer's fence.
	DefaultFenceTimeout = 3000 * time.Millisecond

	defaultPeriod   = 16667 * time.Microsecond
	dequeueBackoff  = 4 * time.Millisecond
	videoStatusMute = 1
)

// Config selects the tunnel and its timing.
type Config struct {
	TunnelID        int
	UnderflowExpiry time.Duration
	FenceTimeout    time.Duration
}

// Option overrides how the back end reaches the vendor library.
type Option func(*Backend)

// WithLib uses lib instead of loading libvideotunnel.
func WithLib(lib Lib) Option {
	return func(b *Backend) { b.loadLib = func() (Lib, error) { return lib, nil } }
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

// WithClock replaces the monotonic clock used for underflow detection.
func WithClock(now clock.Source) Option {
	return func(b *Backend) { b.now = now }
}

// Backend implements backend.Backend on a video tunnel producer endpoint.
type Backend struct {
	cfg     Config
	log     zerolog.Logger
	loadLib func() (Lib, error)
	now     clock.Source

	mu       sync.Mutex
	lib      Lib
	fd       int
	tunnel   int
	events   backend.Events
	interval time.Duration
	crop     entity.Rect

	// queued maps the queued descriptor to its buffer; the tunnel hands the
	// same descriptor back on dequeue.
	queued     map[int]*backend.Buffer
	lastQueued time.Duration
	underflow  bool
	firstFrame bool

	releases *backend.ReleaseTracker
	dispatch *worker.Worker
	ctx      context.Context
	cancel   context.CancelFunc
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.Flusher      = (*Backend)(nil)
	_ backend.CropSetter   = (*Backend)(nil)
	_ backend.TunnelSetter = (*Backend)(nil)
)

// New creates a closed video tunnel back end.
func New(cfg Config, opts ...Option) *Backend {
	if cfg.UnderflowExpiry <= 0 {
		cfg.UnderflowExpiry = DefaultUnderflowExpiry
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = DefaultFenceTimeout
	}
	b := &Backend{
		cfg:      cfg,
		log:      zerolog.Nop(),
		loadLib:  LoadLib,
		now:      clock.Now,
		fd:       -1,
		tunnel:   cfg.TunnelID,
		interval: defaultPeriod,
		queued:   make(map[int]*backend.Buffer),
		releases: backend.NewReleaseTracker(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.dispatch = worker.New(worker.Funcs{Loop: b.dispatchStep})
	return b
}

func (b *Backend) Kind() backend.Kind { return backend.KindVideoTunnel }

// Caps: the tunnel keeps one buffer on screen and schedules presentation
// itself. Every format goes through untouched.
func (b *Backend) Caps() backend.Caps {
	return backend.Caps{
		RecycleThreshold: 1,
		SelfPaced:        true,
		Formats: backend.FormatTable{
			Formats: map[entity.PixelFormat]entity.Fourcc{
				entity.FormatNV12: entity.FourccNV12,
				entity.FormatNV21: entity.FourccNV21,
				entity.FormatI420: entity.FourccYUV420,
				entity.FormatYV12: entity.FourccYVU420,
			},
			Fallback: entity.FourccNV21,
		},
	}
}

// SetTunnelID selects the tunnel instance used by the next Open.
func (b *Backend) SetTunnelID(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lib != nil {
		return fmt.Errorf("tunnel id: already connected to %d", b.tunnel)
	}
	b.tunnel = id
	return nil
}

func (b *Backend) Open(_ context.Context, events backend.Events) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lib != nil {
		return nil
	}

	lib, err := b.loadLib()
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	fd, err := lib.Open()
	if err != nil {
		_ = lib.Unload()
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	if err := lib.Connect(fd, b.tunnel, RoleProducer); err != nil {
		_ = lib.Close(fd)
		_ = lib.Unload()
		return fmt.Errorf("%w: connect tunnel %d: %w", backend.ErrUnavailable, b.tunnel, err)
	}

	if _, period, err := lib.DisplayVsync(fd, b.tunnel); err == nil && period > 0 {
		b.interval = time.Duration(period) * time.Microsecond
	}
	if b.crop.Valid() {
		if err := lib.SetSourceCrop(fd, b.tunnel, toCrop(b.crop)); err != nil {
			b.log.Warn().Err(err).Msg("set source crop failed")
		}
	}

	b.lib, b.fd, b.events = lib, fd, events
	b.firstFrame = true
	b.underflow = false
	b.lastQueued = b.now()
	b.ctx, b.cancel = context.WithCancel(context.Background())

	if err := b.dispatch.Run("vr-vt-dispatch"); err != nil {
		b.teardownLocked()
		return err
	}

	b.log.Info().Int("tunnel", b.tunnel).Int("fd", fd).Dur("period", b.interval).Msg("video tunnel connected")
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	if b.lib == nil {
		b.mu.Unlock()
		return nil
	}
	b.cancel()
	lib, fd, tunnel := b.lib, b.fd, b.tunnel
	b.mu.Unlock()

	// Disconnecting unblocks a pending dequeue.
	errDisc := lib.Disconnect(fd, tunnel, RoleProducer)
	errJoin := b.dispatch.RequestExitAndWait()

	b.mu.Lock()
	defer b.mu.Unlock()
	err := errors.Join(errDisc, errJoin)
	return errors.Join(err, b.teardownLocked())
}

func (b *Backend) teardownLocked() error {
	err := errors.Join(b.lib.Close(b.fd), b.lib.Unload())
	b.lib, b.fd = nil, -1
	clear(b.queued)
	b.releases.ResolveAll()
	return err
}

func (b *Backend) Import(buf *entity.RenderBuffer, format entity.Fourcc) (*backend.Buffer, error) {
	b.mu.Lock()
	open := b.lib != nil
	b.mu.Unlock()
	if !open {
		return nil, backend.ErrNotOpen
	}
	return backend.NewBuffer(buf, format)
}

func (b *Backend) Free(desc *backend.Buffer) error {
	b.mu.Lock()
	if b.queued[desc.Fd(0)] == desc {
		delete(b.queued, desc.Fd(0))
	}
	b.mu.Unlock()
	b.releases.Resolve(desc.Fd(0))
	return desc.Close()
}

// Post queues the buffer's first plane with no acquire fence. The tunnel
// shows it at PresentAt.
func (b *Backend) Post(_ context.Context, desc *backend.Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lib == nil {
		return backend.ErrNotOpen
	}
	fd0 := desc.Fd(0)
	if err := b.lib.QueueBuffer(b.fd, b.tunnel, fd0, -1, int64(desc.PresentAt/time.Microsecond)); err != nil {
		return err
	}
	b.queued[fd0] = desc
	b.releases.Track(fd0)
	b.lastQueued = b.now()
	b.underflow = false
	return nil
}

// WaitFence waits until the tunnel has dequeued the buffer and its release
// fence signalled.
func (b *Backend) WaitFence(ctx context.Context, desc *backend.Buffer) error {
	return b.releases.Wait(ctx, desc.Fd(0))
}

// WaitRefresh sleeps one display period; the tunnel does its own pacing.
func (b *Backend) WaitRefresh(ctx context.Context) (time.Duration, error) {
	t := time.NewTimer(b.RefreshInterval())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
		return b.now(), nil
	}
}

func (b *Backend) RefreshInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

func (b *Backend) Geometry() entity.Rect { return entity.Rect{} }

// MutePlane asks the consumer to stop showing video.
func (b *Backend) MutePlane(mute bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lib == nil {
		return backend.ErrNotOpen
	}
	status := 0
	if mute {
		status = videoStatusMute
	}
	return b.lib.SendCmd(b.fd, b.tunnel, CmdSetStatus, status)
}

// Flush cancels every buffer the consumer has not shown yet.
func (b *Backend) Flush() error {
	b.mu.Lock()
	if b.lib == nil {
		b.mu.Unlock()
		return nil
	}
	err := b.lib.CancelBuffer(b.fd, b.tunnel)
	pending := make([]int, 0, len(b.queued))
	for fd := range b.queued {
		pending = append(pending, fd)
	}
	clear(b.queued)
	b.mu.Unlock()

	for _, fd := range pending {
		b.releases.Resolve(fd)
	}
	return err
}

// SetCrop sets the source crop. Width and height are converted to edges.
func (b *Backend) SetCrop(r entity.Rect) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.crop = r
	if b.lib == nil {
		return nil
	}
	return b.lib.SetSourceCrop(b.fd, b.tunnel, toCrop(r))
}

func toCrop(r entity.Rect) Crop {
	return Crop{
		Left:   int32(r.X),
		Top:    int32(r.Y),
		Right:  int32(r.X + r.W),
		Bottom: int32(r.Y + r.H),
	}
}

// dispatchStep reports underflow, then takes one buffer back from the
// consumer, waits out its fence and releases it.
func (b *Backend) dispatchStep() bool {
	b.mu.Lock()
	lib, fd, tunnel, ctx := b.lib, b.fd, b.tunnel, b.ctx
	b.mu.Unlock()
	if lib == nil || ctx.Err() != nil {
		return false
	}

	b.checkUnderflow()

	bufferFd, fenceFd, err := lib.DequeueBuffer(fd, tunnel)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		t := time.NewTimer(dequeueBackoff)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		return true
	}

	if fenceFd >= 0 {
		if err := backend.WaitFenceFd(ctx, fenceFd, b.cfg.FenceTimeout); err != nil && ctx.Err() == nil {
			b.log.Warn().Err(err).Int("buffer_fd", bufferFd).Msg("release fence wait failed")
		}
		_ = unix.Close(fenceFd)
	}

	b.mu.Lock()
	desc, ok := b.queued[bufferFd]
	delete(b.queued, bufferFd)
	first := ok && b.firstFrame
	if first {
		b.firstFrame = false
	}
	events := b.events
	b.mu.Unlock()

	if !ok {
		b.log.Error().Int("buffer_fd", bufferFd).Msg("dequeued unknown buffer")
		return true
	}

	if first && events != nil {
		b.log.Info().Int64("pts", desc.Pts).Msg("first frame displayed")
		events.Notify(entity.MsgFirstFrame, desc.Pts)
	}
	b.releases.Resolve(bufferFd)
	return true
}

func (b *Backend) checkUnderflow() {
	b.mu.Lock()
	fire := len(b.queued) == 0 && !b.underflow && !b.firstFrame &&
		b.now()-b.lastQueued > b.cfg.UnderflowExpiry
	if fire {
		b.underflow = true
	}
	events := b.events
	b.mu.Unlock()

	if fire && events != nil {
		b.log.Debug().Msg("underflow")
		events.Notify(entity.MsgUnderflow, nil)
	}
}
