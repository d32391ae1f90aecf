package display

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/clock"
	mock_display "github.com/bnema/vidrender/internal/display/mocks"
	"github.com/bnema/vidrender/internal/domain/entity"
)

func startCoordinator(t *testing.T, b backend.Backend, cb Callbacks, opts Options) *Coordinator {
	t.Helper()
	c := New(b, cb, opts)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCoordinator_DisplayFrameBeforeStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	cb := mock_display.NewMockCallbacks(ctrl)

	c := New(newFakeBackend(), cb, Options{})
	err := c.DisplayFrame(newBuffer(1, testFd(t), entity.FormatNV12), 0)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestCoordinator_StartFailsWhenBackendUnavailable(t *testing.T) {
	fb := newFakeBackend()
	fb.openErr = backend.ErrUnavailable

	c := New(fb, newRecorder(), Options{})
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
	assert.False(t, c.Started())
	assert.NoError(t, c.Stop())
}

func TestCoordinator_StartTwice(t *testing.T) {
	c := startCoordinator(t, newFakeBackend(), newRecorder(), Options{})
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestCoordinator_FormatFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	cb := mock_display.NewMockCallbacks(ctrl)

	fb := newFakeBackend()
	c := startCoordinator(t, fb, cb, Options{})

	buf := newBuffer(1, testFd(t), entity.FormatYUV9)
	cb.EXPECT().HandleFrameDisplayed(buf).MaxTimes(1)
	cb.EXPECT().HandleFrameDropped(buf).MaxTimes(1)
	cb.EXPECT().HandleBufferRelease(buf).Times(1)

	require.NoError(t, c.DisplayFrame(buf, clock.Now()))
	require.NoError(t, c.Stop())

	fb.mu.Lock()
	assert.Equal(t, []entity.Fourcc{entity.FourccYUYV}, fb.imported)
	fb.mu.Unlock()
	assert.Equal(t, uint64(1), c.Stats().FormatFallbacks)
}

func TestCoordinator_KnownFormatIsMapped(t *testing.T) {
	fb := newFakeBackend()
	c := startCoordinator(t, fb, newRecorder(), Options{})

	require.NoError(t, c.DisplayFrame(newBuffer(1, testFd(t), entity.FormatNV21), clock.Now()))
	require.NoError(t, c.Stop())

	fb.mu.Lock()
	assert.Equal(t, []entity.Fourcc{entity.FourccNV21}, fb.imported)
	fb.mu.Unlock()
	assert.Zero(t, c.Stats().FormatFallbacks)
}

func TestCoordinator_ImportFailureDropsThenReleases(t *testing.T) {
	ctrl := gomock.NewController(t)
	cb := mock_display.NewMockCallbacks(ctrl)

	fb := newFakeBackend()
	fb.importErr = errors.New("no memory")
	c := startCoordinator(t, fb, cb, Options{})

	buf := newBuffer(9, testFd(t), entity.FormatNV12)
	gomock.InOrder(
		cb.EXPECT().HandleFrameDropped(buf),
		cb.EXPECT().HandleBufferRelease(buf),
	)

	require.NoError(t, c.DisplayFrame(buf, clock.Now()))
	assert.Equal(t, uint64(1), c.Stats().ImportErrors)
}

func TestCoordinator_DisplayedPrecedesRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	cb := mock_display.NewMockCallbacks(ctrl)

	fb := newFakeBackend()
	fb.caps.RecycleThreshold = 1
	c := startCoordinator(t, fb, cb, Options{})

	buf := newBuffer(1, testFd(t), entity.FormatNV12)
	released := make(chan struct{})
	gomock.InOrder(
		cb.EXPECT().HandleFrameDisplayed(buf),
		cb.EXPECT().HandleBufferRelease(buf).Do(func(*entity.RenderBuffer) { close(released) }),
	)

	require.NoError(t, c.DisplayFrame(buf, clock.Now()))
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("buffer never released")
	}
}

func TestCoordinator_ExactlyOnceRelease(t *testing.T) {
	fb := newFakeBackend()
	fb.fence = func(ctx context.Context, _ *backend.Buffer) error {
		d := time.Duration(rand.IntN(4)) * time.Millisecond
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	rec := newRecorder()
	c := startCoordinator(t, fb, rec, Options{FenceTimeout: 2 * time.Millisecond})
	fd := testFd(t)

	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				id := p*perProducer + i
				at := clock.Now() + time.Duration(rand.IntN(6)-2)*time.Millisecond
				assert.NoError(t, c.DisplayFrame(newBuffer(id, fd, entity.FormatNV12), at))
				if i%17 == 0 {
					_ = c.Flush()
				}
				time.Sleep(time.Duration(rand.IntN(500)) * time.Microsecond)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, c.Stop())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.released, producers*perProducer)
	for id, n := range rec.released {
		assert.Equal(t, 1, n, "buffer %d released %d times", id, n)
		assert.LessOrEqual(t, rec.dropped[id]+rec.displayed[id], 1, "buffer %d both dropped and displayed", id)
		events := rec.order[id]
		assert.Equal(t, "released", events[len(events)-1], "buffer %d: release must come last", id)
	}

	for b, n := range fb.freeCounts() {
		assert.Equal(t, 1, n, "descriptor for buffer %d freed %d times", b.ID, n)
		assert.True(t, b.Closed())
	}
	assert.Len(t, fb.freeCounts(), producers*perProducer)

	st := c.Stats()
	assert.Equal(t, uint64(producers*perProducer), st.Released)
	assert.Equal(t, st.Accepted, st.Released)
}

func TestCoordinator_StopIsBoundedWithBlockedWaits(t *testing.T) {
	fb := newFakeBackend()
	fb.fence = func(ctx context.Context, _ *backend.Buffer) error {
		<-ctx.Done()
		return ctx.Err()
	}
	rec := newRecorder()
	c := startCoordinator(t, fb, rec, Options{
		RecycleThreshold: 1,
		FenceTimeout:     time.Hour,
	})
	fd := testFd(t)

	for i := range 5 {
		require.NoError(t, c.DisplayFrame(newBuffer(i, fd, entity.FormatNV12), clock.Now()))
	}
	// Frames far in the future stay in the pacing queue.
	for i := 5; i < 10; i++ {
		require.NoError(t, c.DisplayFrame(newBuffer(i, fd, entity.FormatNV12), clock.Now()+time.Hour))
	}
	require.Eventually(t, func() bool { return c.Stats().Recycler.FenceWaits > 0 }, 2*time.Second, time.Millisecond)

	fb.mu.Lock()
	fb.refresh = func(ctx context.Context) (time.Duration, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	fb.mu.Unlock()

	start := time.Now()
	require.NoError(t, c.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 10, rec.releasedCount())
}

func TestCoordinator_StopMutesPlaneUnlessKeepingLastFrame(t *testing.T) {
	fb := newFakeBackend()
	c := New(fb, newRecorder(), Options{})
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())

	fb.mu.Lock()
	assert.Equal(t, []bool{true}, fb.muted)
	assert.Equal(t, 1, fb.closed)
	fb.muted = nil
	fb.mu.Unlock()

	require.NoError(t, c.SetKeepLastFrame(true))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())

	fb.mu.Lock()
	assert.Empty(t, fb.muted)
	assert.Equal(t, 2, fb.opened)
	fb.mu.Unlock()
}

func TestCoordinator_HideVideoMutesPlane(t *testing.T) {
	fb := newFakeBackend()
	c := startCoordinator(t, fb, newRecorder(), Options{})

	require.NoError(t, c.SetHideVideo(true))
	require.NoError(t, c.SetHideVideo(false))

	fb.mu.Lock()
	assert.Equal(t, []bool{true, false}, fb.muted)
	fb.mu.Unlock()
}

func TestCoordinator_ForwardsBackendMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	cb := mock_display.NewMockCallbacks(ctrl)

	fb := newFakeBackend()
	startCoordinator(t, fb, cb, Options{})

	cb.EXPECT().HandleMsgNotify(entity.MsgUnderflow, int64(42))
	fb.notify(entity.MsgUnderflow, int64(42))
}

func TestCoordinator_WindowCapability(t *testing.T) {
	wb := &windowBackend{fakeBackend: newFakeBackend()}
	c := New(wb, newRecorder(), Options{})

	early := entity.Rect{X: 1, Y: 2, W: 640, H: 360}
	require.NoError(t, c.SetWindowSize(early))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	late := entity.Rect{W: 1280, H: 720}
	require.NoError(t, c.SetWindowSize(late))

	wb.mu.Lock()
	assert.Equal(t, []entity.Rect{early, late}, wb.windows)
	wb.mu.Unlock()
}

func TestCoordinator_SelfPacedForcesImmediate(t *testing.T) {
	fb := newFakeBackend()
	fb.caps.SelfPaced = true
	c := New(fb, newRecorder(), Options{})

	require.NoError(t, c.SetImmediatelyOutput(false))
	v, err := c.Prop(KeyImmediatelyOutput)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
