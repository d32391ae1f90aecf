package drm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidrender/internal/clock"
	"github.com/bnema/vidrender/internal/display"
	"github.com/bnema/vidrender/internal/domain/entity"
)

type releaseCounter struct {
	mu       sync.Mutex
	released map[int]int
}

func (r *releaseCounter) HandleFrameDropped(*entity.RenderBuffer)   {}
func (r *releaseCounter) HandleFrameDisplayed(*entity.RenderBuffer) {}
func (r *releaseCounter) HandleMsgNotify(entity.MsgType, any)       {}

func (r *releaseCounter) HandleBufferRelease(buf *entity.RenderBuffer) {
	r.mu.Lock()
	r.released[buf.ID]++
	r.mu.Unlock()
}

func (r *releaseCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

func TestCoordinatorStop_DoesNotWaitOnVendorFence(t *testing.T) {
	lib := newFakeLib()
	lib.fenceRel = make(chan struct{})
	b := New(Config{}, WithLib(lib), WithCard(&fakeCard{ticks: make(chan time.Duration)}))

	cb := &releaseCounter{released: make(map[int]int)}
	c := display.New(b, cb, display.Options{
		ImmediateOutput:  true,
		RecycleThreshold: 1,
		FenceTimeout:     time.Hour,
	})
	require.NoError(t, c.Start(context.Background()))

	const frames = 4
	for i := 1; i <= frames; i++ {
		buf := testBuffer(t)
		buf.ID = i
		require.NoError(t, c.DisplayFrame(buf, clock.Now()))
	}
	require.Eventually(t, func() bool {
		return c.Stats().Recycler.FenceWaits > 0
	}, time.Second, 5*time.Millisecond, "recycler never started a fence wait")

	stopped := make(chan error, 1)
	go func() { stopped <- c.Close() }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		close(lib.fenceRel)
		t.Fatal("Stop waited for the vendor fence call")
	}
	assert.Equal(t, frames, cb.count())
	assert.False(t, lib.isClosed())

	close(lib.fenceRel)
	assert.Eventually(t, lib.isClosed, time.Second, 5*time.Millisecond)
}
