package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/pipeline"
)

const ms = time.Millisecond

func TestPoster_LastWriterWins(t *testing.T) {
	d := newFakeDisplay()
	sink := &sinkRecorder{}
	p := pipeline.NewPoster(d, sink)

	require.NoError(t, p.Enqueue(newFrame(1, 100*ms)))
	require.NoError(t, p.Enqueue(newFrame(2, 120*ms)))

	p.Tick(context.Background(), 120*ms)

	posted, displayed, dropped, released := d.snapshot()
	assert.Equal(t, []int{2}, posted)
	assert.Equal(t, []int{2}, displayed)
	assert.Equal(t, map[int]int{1: 1}, dropped)
	assert.Equal(t, map[int]int{1: 1}, released)
	assert.Equal(t, []int{2}, sink.ids())
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestPoster_NoStalePost(t *testing.T) {
	d := newFakeDisplay()
	sink := &sinkRecorder{}
	p := pipeline.NewPoster(d, sink)

	require.NoError(t, p.Enqueue(newFrame(1, 200*ms)))

	p.Tick(context.Background(), 100*ms)
	posted, _, dropped, _ := d.snapshot()
	assert.Empty(t, posted)
	assert.Empty(t, dropped)
	assert.Equal(t, 1, p.Stats().Queued)

	p.Tick(context.Background(), 200*ms-d.interval)
	posted, _, _, _ = d.snapshot()
	assert.Equal(t, []int{1}, posted)
}

func TestPoster_StopsAtFirstFutureFrame(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{})

	require.NoError(t, p.Enqueue(newFrame(1, 10*ms)))
	require.NoError(t, p.Enqueue(newFrame(2, 500*ms)))
	require.NoError(t, p.Enqueue(newFrame(3, 20*ms)))

	p.Tick(context.Background(), 50*ms)

	posted, _, dropped, _ := d.snapshot()
	assert.Equal(t, []int{1}, posted)
	assert.Empty(t, dropped)
	assert.Equal(t, 2, p.Stats().Queued)
}

func TestPoster_ImmediateModeBypassesPacing(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{})
	p.SetImmediatelyOutput(true)

	require.NoError(t, p.Enqueue(newFrame(1, time.Hour)))
	require.NoError(t, p.Enqueue(newFrame(2, 2*time.Hour)))

	p.Tick(context.Background(), 0)

	posted, _, dropped, _ := d.snapshot()
	assert.Equal(t, []int{1}, posted)
	assert.Empty(t, dropped)
	assert.Equal(t, 1, p.Stats().Queued)
}

func TestPoster_PauseIsIdempotent(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{})
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Enqueue(newFrame(i, time.Duration(i)*ms)))
	}

	p.Pause()
	for range 5 {
		p.Tick(context.Background(), time.Second)
	}

	posted, _, dropped, _ := d.snapshot()
	assert.Empty(t, posted)
	assert.Empty(t, dropped)
	assert.Equal(t, 3, p.Stats().Queued)

	p.Resume()
	p.Tick(context.Background(), time.Second)
	posted, _, dropped, _ = d.snapshot()
	assert.Equal(t, []int{3}, posted)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, dropped)
}

func TestPoster_WindowRectAppliesToNextPostOnly(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{})

	first := newFrame(1, 0)
	require.NoError(t, p.Enqueue(first))
	p.Tick(context.Background(), 0)

	rect := entity.Rect{X: 10, Y: 20, W: 640, H: 360}
	p.SetWindowSize(rect)

	second := newFrame(2, 20*ms)
	require.NoError(t, p.Enqueue(second))
	p.Tick(context.Background(), 20*ms)

	assert.Equal(t, entity.Rect{}, first.Desc.(*fakeDesc).Destination())
	assert.Equal(t, rect, second.Desc.(*fakeDesc).Destination())
}

func TestPoster_PostFailureDropsFrame(t *testing.T) {
	d := newFakeDisplay()
	d.postErr = errors.New("commit failed")
	sink := &sinkRecorder{}
	p := pipeline.NewPoster(d, sink)

	require.NoError(t, p.Enqueue(newFrame(1, 0)))
	p.Tick(context.Background(), 0)

	_, displayed, dropped, released := d.snapshot()
	assert.Empty(t, displayed)
	assert.Equal(t, map[int]int{1: 1}, dropped)
	assert.Equal(t, map[int]int{1: 1}, released)
	assert.Empty(t, sink.ids())
	assert.Equal(t, uint64(1), p.Stats().PostErrors)
}

func TestPoster_FlushDropsEverything(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{})
	for i := 1; i <= 4; i++ {
		require.NoError(t, p.Enqueue(newFrame(i, time.Hour)))
	}

	assert.Equal(t, 4, p.Flush())
	_, _, dropped, released := d.snapshot()
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1, 4: 1}, dropped)
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1, 4: 1}, released)
	assert.Equal(t, 0, p.Flush())
}

func TestPoster_CapacityDropsOverflow(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{}, pipeline.WithPosterCapacity(1))

	require.NoError(t, p.Enqueue(newFrame(1, 0)))
	assert.Error(t, p.Enqueue(newFrame(2, 0)))

	_, _, dropped, _ := d.snapshot()
	assert.Equal(t, map[int]int{2: 1}, dropped)
}

func TestPoster_LoopPostsOnTicks(t *testing.T) {
	d := newFakeDisplay()
	sink := &sinkRecorder{}
	p := pipeline.NewPoster(d, sink)

	require.NoError(t, p.Start())
	assert.Equal(t, pipeline.PosterRunning, p.State())

	require.NoError(t, p.Enqueue(newFrame(1, 10*ms)))
	d.ticks <- 10 * ms
	d.ticks <- 26 * ms // the first tick is fully processed once this one is taken

	assert.Equal(t, []int{1}, sink.ids())

	require.NoError(t, p.Enqueue(newFrame(2, time.Hour)))
	require.NoError(t, p.Stop())
	assert.Equal(t, pipeline.PosterStopped, p.State())

	_, _, dropped, _ := d.snapshot()
	assert.Equal(t, map[int]int{2: 1}, dropped)
}

func TestPoster_StopInterruptsRefreshWait(t *testing.T) {
	d := newFakeDisplay()
	p := pipeline.NewPoster(d, &sinkRecorder{})
	require.NoError(t, p.Start())
	time.Sleep(10 * ms)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), 500*ms)
}

func TestPoster_StartTwice(t *testing.T) {
	p := pipeline.NewPoster(newFakeDisplay(), &sinkRecorder{})
	require.NoError(t, p.Start())
	defer p.Stop()
	assert.Error(t, p.Start())
}

func TestPoster_StopWithoutStart(t *testing.T) {
	p := pipeline.NewPoster(newFakeDisplay(), &sinkRecorder{})
	assert.ErrorIs(t, p.Stop(), pipeline.ErrNotRunning)
}
