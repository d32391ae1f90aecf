package display

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/clock"
	"github.com/bnema/vidrender/internal/domain/entity"
)

var testFormats = backend.FormatTable{
	Formats: map[entity.PixelFormat]entity.Fourcc{
		entity.FormatNV12: entity.FourccNV12,
		entity.FormatNV21: entity.FourccNV21,
	},
	Fallback: entity.FourccYUYV,
}

type fakeBackend struct {
	caps     backend.Caps
	interval time.Duration

	mu        sync.Mutex
	openErr   error
	importErr error
	opened    int
	closed    int
	muted     []bool
	imported  []entity.Fourcc
	posted    []int
	buffers   []*backend.Buffer
	freed     map[*backend.Buffer]int
	events    backend.Events
	fence     func(ctx context.Context, b *backend.Buffer) error
	refresh   func(ctx context.Context) (time.Duration, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		caps: backend.Caps{
			RecycleThreshold: 2,
			Formats:          testFormats,
		},
		interval: 2 * time.Millisecond,
		freed:    make(map[*backend.Buffer]int),
	}
}

func (f *fakeBackend) Kind() backend.Kind { return "fake" }
func (f *fakeBackend) Caps() backend.Caps { return f.caps }

func (f *fakeBackend) Open(_ context.Context, events backend.Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	f.events = events
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Import(buf *entity.RenderBuffer, format entity.Fourcc) (*backend.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append(f.imported, format)
	if f.importErr != nil {
		return nil, f.importErr
	}
	b, err := backend.NewBuffer(buf, format)
	if err != nil {
		return nil, err
	}
	f.buffers = append(f.buffers, b)
	return b, nil
}

func (f *fakeBackend) Free(b *backend.Buffer) error {
	f.mu.Lock()
	f.freed[b]++
	f.mu.Unlock()
	return b.Close()
}

func (f *fakeBackend) Post(_ context.Context, b *backend.Buffer) error {
	f.mu.Lock()
	f.posted = append(f.posted, b.ID)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) WaitFence(ctx context.Context, b *backend.Buffer) error {
	f.mu.Lock()
	fence := f.fence
	f.mu.Unlock()
	if fence != nil {
		return fence(ctx, b)
	}
	return nil
}

func (f *fakeBackend) WaitRefresh(ctx context.Context) (time.Duration, error) {
	f.mu.Lock()
	refresh := f.refresh
	f.mu.Unlock()
	if refresh != nil {
		return refresh(ctx)
	}

	t := time.NewTimer(f.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
		return clock.Now(), nil
	}
}

func (f *fakeBackend) RefreshInterval() time.Duration { return f.interval }
func (f *fakeBackend) Geometry() entity.Rect          { return entity.Rect{W: 1920, H: 1080} }

func (f *fakeBackend) MutePlane(mute bool) error {
	f.mu.Lock()
	f.muted = append(f.muted, mute)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) notify(msg entity.MsgType, detail any) {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	ev.Notify(msg, detail)
}

func (f *fakeBackend) freeCounts() map[*backend.Buffer]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[*backend.Buffer]int, len(f.freed))
	for b, n := range f.freed {
		out[b] = n
	}
	return out
}

// windowBackend adds the optional window capability.
type windowBackend struct {
	*fakeBackend
	windows []entity.Rect
}

func (w *windowBackend) SetWindow(r entity.Rect) error {
	w.mu.Lock()
	w.windows = append(w.windows, r)
	w.mu.Unlock()
	return nil
}

// recorder is a Callbacks implementation that tallies every event.
type recorder struct {
	mu        sync.Mutex
	displayed map[int]int
	dropped   map[int]int
	released  map[int]int
	msgs      []entity.MsgType
	order     map[int][]string
}

func newRecorder() *recorder {
	return &recorder{
		displayed: make(map[int]int),
		dropped:   make(map[int]int),
		released:  make(map[int]int),
		order:     make(map[int][]string),
	}
}

func (r *recorder) HandleFrameDropped(buf *entity.RenderBuffer) {
	r.mu.Lock()
	r.dropped[buf.ID]++
	r.order[buf.ID] = append(r.order[buf.ID], "dropped")
	r.mu.Unlock()
}

func (r *recorder) HandleFrameDisplayed(buf *entity.RenderBuffer) {
	r.mu.Lock()
	r.displayed[buf.ID]++
	r.order[buf.ID] = append(r.order[buf.ID], "displayed")
	r.mu.Unlock()
}

func (r *recorder) HandleBufferRelease(buf *entity.RenderBuffer) {
	r.mu.Lock()
	r.released[buf.ID]++
	r.order[buf.ID] = append(r.order[buf.ID], "released")
	r.mu.Unlock()
}

func (r *recorder) HandleMsgNotify(msg entity.MsgType, _ any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) releasedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

// testFd returns a descriptor that stays open for the whole test.
func testFd(t *testing.T) int {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0]
}

func newBuffer(id, fd int, format entity.PixelFormat) *entity.RenderBuffer {
	return &entity.RenderBuffer{
		ID:          id,
		Width:       320,
		Height:      240,
		Pts:         int64(id) * int64(time.Millisecond),
		PixelFormat: format,
		Planes:      []entity.Plane{{Fd: fd, Stride: 320}, {Fd: fd, Stride: 320, Offset: 320 * 240}},
	}
}
