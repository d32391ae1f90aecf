package westeros

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
	"github.com/bnema/vidrender/internal/logging"
	"github.com/bnema/vidrender/internal/worker"
)

const (
	defaultRate = 60

	pauseSettleTries = 20
	pauseSettleStep  = 8 * time.Millisecond
)

// DefaultVideoRect is where frames go until a window is set.
var DefaultVideoRect = entity.Rect{W: 1920, H: 1080}

// Config locates the server and picks the video plane.
type Config struct {
	RuntimeDir string
	SocketName string
	Pip        bool
	// ResourceID selects the main plane resource; pip always uses 1.
	ResourceID uint32
}

// Option overrides how the back end reaches the server.
type Option func(*Backend)

// WithDialer replaces the socket dial, mainly for tests.
func WithDialer(dial func(path string) (*Conn, error)) Option {
	return func(b *Backend) { b.dial = dial }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// inflight is a frame the server holds.
type inflight struct {
	desc      *backend.Buffer
	frameTime int64
	// shown is set once a status message names this frame.
	shown bool
}

// optBool is a setting that is only sent once it has been set.
type optBool struct {
	set, value bool
}

// Backend implements backend.Backend as a Westeros video server client.
type Backend struct {
	cfg  Config
	log  zerolog.Logger
	dial func(path string) (*Conn, error)

	mu        sync.Mutex
	conn      *Conn
	events    backend.Events
	rate      uint32
	pip       bool
	immediate bool
	window    entity.Rect
	crop      entity.Rect
	cropSent  bool
	frameSize entity.FrameSize
	keepLast  optBool
	hide      optBool

	inflight    map[uint32]*inflight
	notShown    int
	firstPts    int64
	firstSent   bool
	dropped     uint32
	serverDrops uint32
	releases    *backend.ReleaseTracker
	reader      *worker.Worker
}

var (
	_ backend.Backend         = (*Backend)(nil)
	_ backend.Flusher         = (*Backend)(nil)
	_ backend.Pauser          = (*Backend)(nil)
	_ backend.WindowSetter    = (*Backend)(nil)
	_ backend.CropSetter      = (*Backend)(nil)
	_ backend.RateSetter      = (*Backend)(nil)
	_ backend.Hider           = (*Backend)(nil)
	_ backend.KeepLastFramer  = (*Backend)(nil)
	_ backend.ImmediateSetter = (*Backend)(nil)
	_ backend.PipSetter       = (*Backend)(nil)
)

// New creates a disconnected Westeros back end.
func New(cfg Config, opts ...Option) *Backend {
	b := &Backend{
		cfg:      cfg,
		log:      zerolog.Nop(),
		dial:     Dial,
		rate:     defaultRate,
		pip:      cfg.Pip,
		inflight: make(map[uint32]*inflight),
		firstPts: -1,
		releases: backend.NewReleaseTracker(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.reader = worker.New(worker.Funcs{Loop: b.readStep})
	return b
}

func (b *Backend) Kind() backend.Kind { return backend.KindWesteros }

// Caps: the server paces frames by their frame time and returns each buffer
// with a release message.
func (b *Backend) Caps() backend.Caps {
	return backend.Caps{
		RecycleThreshold: 1,
		SelfPaced:        true,
		Formats: backend.FormatTable{
			Formats: map[entity.PixelFormat]entity.Fourcc{
				entity.FormatNV12: entity.FourccNV12,
				entity.FormatNV21: entity.FourccNV21,
			},
			Fallback: entity.FourccNV12,
		},
	}
}

func (b *Backend) SetPip(pip bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pip = pip
	return nil
}

func (b *Backend) resourceID() uint32 {
	if b.pip {
		return 1
	}
	return b.cfg.ResourceID
}

// Open connects, selects the plane, announces the session and replays the
// settings made while disconnected.
func (b *Backend) Open(_ context.Context, events backend.Events) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	path := SocketPath(b.cfg.RuntimeDir, b.cfg.SocketName)
	conn, err := b.dial(path)
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}

	msgs := [][]byte{EncodePip(b.pip), EncodeResource(b.resourceID()), b.sessionMessage()}
	if b.hide.set {
		msgs = append(msgs, EncodeHide(b.hide.value))
	}
	if b.keepLast.set {
		msgs = append(msgs, EncodeKeepLastFrame(b.keepLast.value))
	}
	if b.window.Valid() {
		msgs = append(msgs, EncodeRect(b.window))
	}
	for _, m := range msgs {
		if err := conn.Send(m); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
		}
	}

	b.conn, b.events = conn, events
	b.firstPts, b.firstSent = -1, false
	b.notShown, b.dropped, b.serverDrops = 0, 0, 0
	b.cropSent = false
	if err := b.reader.Run("vr-wst-reader"); err != nil {
		b.conn = nil
		_ = conn.Close()
		return err
	}

	b.log.Info().Str("path", path).Bool("pip", b.pip).Bool("immediate", b.immediate).Msg("connected to video server")
	return nil
}

func (b *Backend) sessionMessage() []byte {
	if b.immediate {
		return EncodeSession(SyncImmediate, InvalidSessionID)
	}
	return EncodeSession(SyncModeVideoMono, SessionVideoMono)
}

func (b *Backend) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	conn.Interrupt()
	errJoin := b.reader.RequestExitAndWait()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = nil
	clear(b.inflight)
	b.notShown = 0
	b.releases.ResolveAll()
	return errors.Join(errJoin, conn.Close())
}

func (b *Backend) Import(buf *entity.RenderBuffer, format entity.Fourcc) (*backend.Buffer, error) {
	if len(buf.Planes) > MaxPlanes {
		return nil, fmt.Errorf("%d planes, at most %d supported", len(buf.Planes), MaxPlanes)
	}
	b.mu.Lock()
	open := b.conn != nil
	b.mu.Unlock()
	if !open {
		return nil, backend.ErrNotOpen
	}
	return backend.NewBuffer(buf, format)
}

func (b *Backend) Free(desc *backend.Buffer) error {
	b.mu.Lock()
	if in, ok := b.inflight[uint32(desc.ID)]; ok && in.desc == desc {
		delete(b.inflight, uint32(desc.ID))
	}
	b.mu.Unlock()
	b.releases.Resolve(desc.ID)
	return desc.Close()
}

// Post sends the frame with its plane descriptors. The server shows it at
// PresentAt and answers with a release message once it is done.
func (b *Backend) Post(_ context.Context, desc *backend.Buffer) error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return backend.ErrNotOpen
	}

	id := uint32(desc.ID)
	frameTime := int64(desc.PresentAt / time.Microsecond)
	video := desc.Destination()
	if !video.Valid() {
		video = b.window
	}
	if !video.Valid() {
		video = DefaultVideoRect
	}

	offsets, strides := PlaneLayout(desc.Planes, desc.Width, desc.Height)
	frame := Frame{
		Width: uint32(desc.Width), Height: uint32(desc.Height),
		Fourcc: desc.Fourcc, Video: video,
		Offsets: offsets, Strides: strides,
		BufferID: id, FrameTime: frameTime,
	}

	// Track before sending so a fast release finds the frame.
	b.inflight[id] = &inflight{desc: desc, frameTime: frameTime}
	b.notShown++
	if b.firstPts < 0 {
		b.firstPts = desc.Pts
	}
	b.releases.Track(desc.ID)

	b.frameSize = entity.FrameSize{Width: desc.Width, Height: desc.Height}
	crop := b.pendingCropLocked()
	b.mu.Unlock()

	if crop != nil {
		if err := conn.Send(crop); err != nil {
			b.log.Warn().Err(err).Msg("send crop failed")
		}
	}

	fds := make([]int, 0, len(desc.Planes))
	for i := range desc.Planes {
		fds = append(fds, desc.Fd(i))
	}
	if err := conn.Send(EncodeFrame(frame), fds...); err != nil {
		b.mu.Lock()
		if _, ok := b.inflight[id]; ok {
			delete(b.inflight, id)
			b.notShown--
		}
		b.mu.Unlock()
		b.releases.Resolve(desc.ID)
		return fmt.Errorf("send frame %d: %w", id, err)
	}
	return nil
}

// WaitFence waits for the server's release message for desc.
func (b *Backend) WaitFence(ctx context.Context, desc *backend.Buffer) error {
	return b.releases.Wait(ctx, desc.ID)
}

// WaitRefresh sleeps one server refresh period.
func (b *Backend) WaitRefresh(ctx context.Context) (time.Duration, error) {
	t := time.NewTimer(b.RefreshInterval())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
		return clock.Now(), nil
	}
}

func (b *Backend) RefreshInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Second / time.Duration(b.rate)
}

func (b *Backend) Geometry() entity.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.window.Valid() {
		return b.window
	}
	return DefaultVideoRect
}

func (b *Backend) MutePlane(mute bool) error { return b.SetHideVideo(mute) }

// send writes m if connected. Settings changed while disconnected are sent
// on Open.
func (b *Backend) send(m []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Send(m)
}

// Flush asks the server to drop the frames it has not shown. Their release
// messages still follow.
func (b *Backend) Flush() error {
	b.mu.Lock()
	keep := b.keepLast.value
	for _, in := range b.inflight {
		if !in.shown {
			in.shown = true
			b.notShown--
		}
	}
	b.mu.Unlock()
	return b.send(EncodeFlush(keep))
}

// Pause lets frames already sent reach the screen, for up to 20 checks 8ms
// apart, then pauses the server.
func (b *Backend) Pause() error {
	for i := 0; i < pauseSettleTries; i++ {
		b.mu.Lock()
		settled := b.notShown <= 0
		b.mu.Unlock()
		if settled {
			break
		}
		time.Sleep(pauseSettleStep)
	}

	b.mu.Lock()
	if b.notShown > 0 {
		b.log.Warn().Int("pending", b.notShown).Msg("pausing with frames still pending")
	}
	b.mu.Unlock()
	return b.send(EncodePause(true))
}

func (b *Backend) Resume() error { return b.send(EncodePause(false)) }

// FrameAdvance shows the next frame while paused.
func (b *Backend) FrameAdvance() error { return b.send(EncodeFrameAdvance()) }

func (b *Backend) SetWindow(r entity.Rect) error {
	b.mu.Lock()
	b.window = r
	b.mu.Unlock()
	return b.send(EncodeRect(r))
}

// SetCrop sets the source crop. It is clamped to the frame size, so it is
// held back until the first frame tells us that size.
func (b *Backend) SetCrop(r entity.Rect) error {
	b.mu.Lock()
	b.crop = r
	b.cropSent = false
	conn := b.conn
	msg := b.pendingCropLocked()
	b.mu.Unlock()

	if conn == nil || msg == nil {
		return nil
	}
	return conn.Send(msg)
}

func (b *Backend) pendingCropLocked() []byte {
	if b.cropSent || b.conn == nil || !b.crop.Valid() || b.frameSize.Width <= 0 || b.frameSize.Height <= 0 {
		return nil
	}
	r, ok := ClampCrop(b.crop, b.frameSize)
	if !ok {
		b.log.Error().Stringer("crop", b.crop).Int("width", b.frameSize.Width).Int("height", b.frameSize.Height).
			Msg("crop outside frame")
		b.cropSent = true
		return nil
	}
	if r != b.crop {
		b.log.Warn().Stringer("from", b.crop).Stringer("to", r).Msg("crop corrected to frame size")
	}
	b.cropSent = true
	return EncodeCrop(r)
}

// ClampCrop trims r so it ends inside a frame of size fs. It fails when r
// starts outside the frame.
func ClampCrop(r entity.Rect, fs entity.FrameSize) (entity.Rect, bool) {
	if r.X+r.W > fs.Width {
		if r.X >= fs.Width {
			return r, false
		}
		r.W = fs.Width - r.X
	}
	if r.Y+r.H > fs.Height {
		if r.Y >= fs.Height {
			return r, false
		}
		r.H = fs.Height - r.Y
	}
	return r, true
}

func (b *Backend) SetFrameRate(r entity.Rational) error {
	if r.Num <= 0 || r.Denom <= 0 {
		return fmt.Errorf("invalid frame rate %d/%d", r.Num, r.Denom)
	}
	return b.send(EncodeRate(uint32(r.Num), uint32(r.Denom)))
}

func (b *Backend) SetHideVideo(hide bool) error {
	b.mu.Lock()
	b.hide = optBool{set: true, value: hide}
	b.mu.Unlock()
	return b.send(EncodeHide(hide))
}

func (b *Backend) SetKeepLastFrame(keep bool) error {
	b.mu.Lock()
	b.keepLast = optBool{set: true, value: keep}
	b.mu.Unlock()
	return b.send(EncodeKeepLastFrame(keep))
}

// SetImmediateOutput switches the session to immediate sync. Turning it off
// takes effect on the next Open.
func (b *Backend) SetImmediateOutput(on bool) error {
	b.mu.Lock()
	b.immediate = on
	b.mu.Unlock()
	if !on {
		return nil
	}
	return b.send(EncodeSession(SyncImmediate, InvalidSessionID))
}

// ServerDrops is how many frames the server released without showing them.
func (b *Backend) ServerDrops() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serverDrops
}

func (b *Backend) readStep() bool {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return false
	}

	events, err := conn.Receive()
	switch {
	case errors.Is(err, ErrClosed):
		return false
	case errors.Is(err, io.EOF):
		b.log.Warn().Msg("video server hung up")
		b.releases.ResolveAll()
		return false
	case err != nil:
		b.log.Error().Err(err).Msg("receive failed")
		return false
	}

	for _, ev := range events {
		b.handle(ev)
	}
	return true
}

func (b *Backend) handle(ev Event) {
	b.mu.Lock()
	events := b.events
	b.mu.Unlock()

	switch ev.Op {
	case EvRefreshRate:
		if ev.Rate == 0 {
			return
		}
		b.mu.Lock()
		b.rate = ev.Rate
		b.mu.Unlock()
		b.log.Info().Uint32("rate", ev.Rate).Msg("server refresh rate")

	case EvRelease:
		b.handleRelease(ev.BufferID, events)

	case EvStatus:
		b.handleStatus(ev, events)

	case EvUnderflow:
		b.mu.Lock()
		started := b.firstPts >= 0
		b.mu.Unlock()
		if started && events != nil {
			events.Notify(entity.MsgUnderflow, ev.FrameTime)
		}

	case EvZoom:
		b.log.Debug().Int("mode", ev.Zoom.Mode).Bool("global", ev.Zoom.GlobalZoomActive).
			Bool("allow_4k", ev.Zoom.Allow4K).Msg("zoom mode")
		if events != nil {
			events.Notify(entity.MsgZoomMode, ev.Zoom)
		}

	case EvDebugLevel:
		level := logging.LevelFromNumeric(int(ev.DebugLevel))
		b.log.Info().Stringer("level", level).Msg("server set debug level")
		if ls, ok := events.(backend.LevelSetter); ok {
			ls.SetLogLevel(level)
		}
	}
}

// handleRelease resolves the buffer's fence. A frame released before any
// status named it was dropped by the server.
func (b *Backend) handleRelease(id uint32, events backend.Events) {
	b.mu.Lock()
	in, ok := b.inflight[id]
	if !ok {
		b.mu.Unlock()
		b.log.Warn().Uint32("buffer", id).Msg("release for unknown buffer")
		return
	}
	delete(b.inflight, id)
	dropped := !in.shown
	var total uint32
	if dropped {
		b.notShown--
		b.serverDrops++
		total = b.serverDrops
	}
	b.mu.Unlock()

	if dropped {
		b.log.Warn().Int64("pts", in.desc.Pts).Int64("frame_time", in.frameTime).Msg("frame dropped by server")
		if events != nil {
			events.Notify(entity.MsgDropped, total)
		}
	}
	b.releases.Resolve(int(id))
}

func (b *Backend) handleStatus(ev Event, events backend.Events) {
	b.mu.Lock()
	if ev.Dropped != b.dropped {
		b.dropped = ev.Dropped
		b.log.Warn().Uint32("dropped", ev.Dropped).Msg("server drop count changed")
	}
	if ev.FrameTime == -1 {
		b.mu.Unlock()
		return
	}

	var shown *inflight
	for _, in := range b.inflight {
		if in.frameTime == ev.FrameTime && !in.shown {
			shown = in
			break
		}
	}
	if shown == nil {
		b.mu.Unlock()
		b.log.Warn().Int64("frame_time", ev.FrameTime).Msg("status for unknown frame")
		return
	}
	shown.shown = true
	b.notShown--
	first := !b.firstSent && shown.desc.Pts == b.firstPts
	if first {
		b.firstSent = true
	}
	pts := shown.desc.Pts
	b.mu.Unlock()

	if first && events != nil {
		b.log.Info().Int64("pts", pts).Msg("first frame displayed")
		events.Notify(entity.MsgFirstFrame, pts)
	}
}
