package westeros

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/domain/entity"
)

type note struct {
	msg    entity.MsgType
	detail any
}

type events struct {
	mu     sync.Mutex
	notes  []note
	levels []zerolog.Level
}

func (e *events) Notify(msg entity.MsgType, detail any) {
	e.mu.Lock()
	e.notes = append(e.notes, note{msg, detail})
	e.mu.Unlock()
}

func (e *events) SetLogLevel(l zerolog.Level) {
	e.mu.Lock()
	e.levels = append(e.levels, l)
	e.mu.Unlock()
}

func (e *events) find(msg entity.MsgType) (note, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.notes {
		if n.msg == msg {
			return n, true
		}
	}
	return note{}, false
}

func newBackend(t *testing.T, cfg Config) (*Backend, *fakeServer) {
	t.Helper()
	c, srv := newPair(t)
	b := New(cfg, WithDialer(func(string) (*Conn, error) { return c, nil }))
	return b, srv
}

func openBackend(t *testing.T, cfg Config) (*Backend, *fakeServer, *events) {
	t.Helper()
	b, srv := newBackend(t, cfg)
	ev := &events{}
	require.NoError(t, b.Open(context.Background(), ev))
	t.Cleanup(func() { _ = b.Close() })
	return b, srv, ev
}

func testBuffer(t *testing.T, id int, pts int64) *entity.RenderBuffer {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return &entity.RenderBuffer{
		ID: id, Pts: pts, Width: 1920, Height: 1080, PixelFormat: entity.FormatNV12,
		Planes: []entity.Plane{{Fd: p[0], Stride: 1920}, {Fd: p[0], Stride: 1920, Offset: 1920 * 1080}},
	}
}

func post(t *testing.T, b *Backend, id int, pts int64, at time.Duration) *backend.Buffer {
	t.Helper()
	desc, err := b.Import(testBuffer(t, id, pts), entity.FourccNV12)
	require.NoError(t, err)
	desc.PresentAt = at
	require.NoError(t, b.Post(context.Background(), desc))
	return desc
}

func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func status(frameTime int64, dropped uint32) []byte {
	m := []byte{'V', 'S', 13, 'S'}
	m = binary.BigEndian.AppendUint64(m, uint64(frameTime))
	return append(m, u32(dropped)...)
}

func release(id uint32) []byte { return append([]byte{'V', 'S', 5, 'B'}, u32(id)...) }

func TestOpen_Handshake(t *testing.T) {
	b, srv := newBackend(t, Config{})
	require.NoError(t, b.SetPip(true))
	require.NoError(t, b.SetKeepLastFrame(true))
	require.NoError(t, b.Open(context.Background(), &events{}))
	defer b.Close()

	assert.Equal(t, EncodePip(true), srv.next())
	assert.Equal(t, EncodeResource(1), srv.next())
	assert.Equal(t, EncodeSession(SyncModeVideoMono, SessionVideoMono), srv.next())
	assert.Equal(t, EncodeKeepLastFrame(true), srv.next())
}

func TestOpen_ImmediateSession(t *testing.T) {
	b, srv := newBackend(t, Config{ResourceID: 2})
	require.NoError(t, b.SetImmediateOutput(true))
	require.NoError(t, b.Open(context.Background(), &events{}))
	defer b.Close()

	assert.Equal(t, EncodePip(false), srv.next())
	assert.Equal(t, EncodeResource(2), srv.next())
	assert.Equal(t, EncodeSession(SyncImmediate, InvalidSessionID), srv.next())
}

func TestOpen_Unavailable(t *testing.T) {
	b := New(Config{}, WithDialer(func(string) (*Conn, error) { return nil, errors.New("no server") }))
	assert.ErrorIs(t, b.Open(context.Background(), nil), backend.ErrUnavailable)

	_, err := b.Import(testBuffer(t, 1, 0), entity.FourccNV12)
	assert.ErrorIs(t, err, backend.ErrNotOpen)
}

func TestPost_SendsFrameAndWaitsRelease(t *testing.T) {
	b, srv, ev := openBackend(t, Config{})
	require.NoError(t, b.SetWindow(entity.Rect{X: 10, Y: 20, W: 640, H: 360}))

	desc := post(t, b, 5, 1000, 2*time.Second)
	m := srv.nextOp(OpFrame)
	require.Len(t, m, 68)
	assert.Equal(t, u32(5), m[56:60], "buffer id")
	assert.Equal(t, binary.BigEndian.AppendUint64(nil, 2000000), m[60:68], "frame time in us")
	assert.Equal(t, u32(640), m[24:28], "window width")
	assert.Len(t, srv.receivedFds(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.WaitFence(ctx, desc), context.DeadlineExceeded)

	srv.send(status(2000000, 0)...)
	require.Eventually(t, func() bool { _, ok := ev.find(entity.MsgFirstFrame); return ok }, time.Second, time.Millisecond)
	first, _ := ev.find(entity.MsgFirstFrame)
	assert.Equal(t, int64(1000), first.detail)

	srv.send(release(5)...)
	require.NoError(t, b.WaitFence(context.Background(), desc))
	assert.Zero(t, b.ServerDrops())
	_, dropped := ev.find(entity.MsgDropped)
	assert.False(t, dropped)
	require.NoError(t, b.Free(desc))
}

func TestRelease_WithoutStatusIsServerDrop(t *testing.T) {
	b, srv, ev := openBackend(t, Config{})

	desc := post(t, b, 3, 0, time.Second)
	srv.nextOp(OpFrame)
	srv.send(release(3)...)

	require.NoError(t, b.WaitFence(context.Background(), desc))
	require.Eventually(t, func() bool { _, ok := ev.find(entity.MsgDropped); return ok }, time.Second, time.Millisecond)
	n, _ := ev.find(entity.MsgDropped)
	assert.Equal(t, uint32(1), n.detail)
	assert.Equal(t, uint32(1), b.ServerDrops())
	require.NoError(t, b.Free(desc))
}

func TestFlush_ReleasesAreNotDrops(t *testing.T) {
	b, srv, _ := openBackend(t, Config{})
	require.NoError(t, b.SetKeepLastFrame(true))

	desc := post(t, b, 4, 0, time.Second)
	srv.nextOp(OpFrame)
	require.NoError(t, b.Flush())
	assert.Equal(t, EncodeFlush(true), srv.nextOp(OpFlush))

	srv.send(release(4)...)
	require.NoError(t, b.WaitFence(context.Background(), desc))
	assert.Zero(t, b.ServerDrops())
	require.NoError(t, b.Free(desc))
}

func TestServerEvents(t *testing.T) {
	b, srv, ev := openBackend(t, Config{})

	// Underflow before any frame is ignored.
	srv.send('V', 'S', 9, 'U', 0, 0, 0, 0, 0, 0, 0, 1)
	srv.send('V', 'S', 5, 'R', 0, 0, 0, 50)
	require.Eventually(t, func() bool { return b.RefreshInterval() == 20*time.Millisecond }, time.Second, time.Millisecond)
	_, ok := ev.find(entity.MsgUnderflow)
	assert.False(t, ok)

	desc := post(t, b, 1, 0, time.Second)
	srv.send('V', 'S', 9, 'U', 0, 0, 0, 0, 0, 0, 0, 7)
	srv.send('V', 'S', 13, 'Z', 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 2)
	srv.send('V', 'S', 5, 'D', 0, 0, 0, 3)

	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.levels) == 1
	}, time.Second, time.Millisecond)

	u, ok := ev.find(entity.MsgUnderflow)
	require.True(t, ok)
	assert.Equal(t, int64(7), u.detail)
	z, ok := ev.find(entity.MsgZoomMode)
	require.True(t, ok)
	assert.Equal(t, entity.ZoomInfo{GlobalZoomActive: true, Allow4K: true, Mode: 2}, z.detail)
	assert.Equal(t, zerolog.DebugLevel, ev.levels[0])

	require.NoError(t, b.Free(desc))
}

func TestSetCrop_WaitsForFrameSize(t *testing.T) {
	b, srv, _ := openBackend(t, Config{})
	require.NoError(t, b.SetCrop(entity.Rect{X: 100, Y: 0, W: 1920, H: 1080}))

	desc := post(t, b, 1, 0, time.Second)
	assert.Equal(t, EncodeCrop(entity.Rect{X: 100, Y: 0, W: 1820, H: 1080}), srv.nextOp(OpCrop))
	require.NoError(t, b.Free(desc))
}

func TestControlMessages(t *testing.T) {
	b, srv, _ := openBackend(t, Config{})

	require.NoError(t, b.Pause())
	assert.Equal(t, EncodePause(true), srv.nextOp(OpPause))
	require.NoError(t, b.Resume())
	assert.Equal(t, EncodePause(false), srv.nextOp(OpPause))
	require.NoError(t, b.MutePlane(true))
	assert.Equal(t, EncodeHide(true), srv.nextOp(OpHide))
	require.NoError(t, b.SetFrameRate(entity.Rational{Num: 25, Denom: 1}))
	assert.Equal(t, EncodeRate(25, 1), srv.nextOp(OpRate))
	assert.Error(t, b.SetFrameRate(entity.Rational{}))
	require.NoError(t, b.FrameAdvance())
	assert.Equal(t, EncodeFrameAdvance(), srv.nextOp(OpFrameAdvance))
}

func TestPause_WaitsForPendingFrames(t *testing.T) {
	b, srv, _ := openBackend(t, Config{})
	desc := post(t, b, 1, 0, time.Second)
	srv.nextOp(OpFrame)

	start := time.Now()
	require.NoError(t, b.Pause())
	assert.GreaterOrEqual(t, time.Since(start), pauseSettleTries*pauseSettleStep)
	assert.Equal(t, EncodePause(true), srv.nextOp(OpPause))
	require.NoError(t, b.Free(desc))
}

func TestClose_ReleasesPending(t *testing.T) {
	b, srv, _ := openBackend(t, Config{})
	desc := post(t, b, 1, 0, time.Second)
	srv.nextOp(OpFrame)

	done := make(chan error, 1)
	go func() { done <- b.WaitFence(context.Background(), desc) }()

	require.NoError(t, b.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fence wait not released by Close")
	}
	require.NoError(t, desc.Close())
	assert.NoError(t, b.Close())
}

func TestServerHangupReleasesPending(t *testing.T) {
	b, srv, _ := openBackend(t, Config{})
	desc := post(t, b, 1, 0, time.Second)
	srv.nextOp(OpFrame)

	srv.close()
	require.NoError(t, b.WaitFence(context.Background(), desc))
	require.NoError(t, b.Free(desc))
}
