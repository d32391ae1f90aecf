package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidrender/internal/pipeline"
)

func TestRecycler_NoFenceWaitBelowThreshold(t *testing.T) {
	d := newFakeDisplay()
	r := pipeline.NewRecycler(d, pipeline.WithThreshold(2), pipeline.WithIdleInterval(time.Millisecond))
	require.NoError(t, r.Start())

	r.Enqueue(newFrame(1, 0))
	time.Sleep(30 * ms)

	stats := r.Stats()
	assert.False(t, stats.Armed)
	assert.Zero(t, stats.FenceWaits)

	require.NoError(t, r.Stop())
	_, _, _, released := d.snapshot()
	assert.Equal(t, map[int]int{1: 1}, released)
}

func TestRecycler_ReleasesOldestOnceArmed(t *testing.T) {
	d := newFakeDisplay()
	r := pipeline.NewRecycler(d, pipeline.WithThreshold(2), pipeline.WithIdleInterval(time.Millisecond))
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Enqueue(newFrame(1, 0))
	r.Enqueue(newFrame(2, 0))

	select {
	case id := <-d.fenceStarted:
		assert.Equal(t, 1, id)
	case <-time.After(time.Second):
		t.Fatal("no fence wait after reaching the threshold")
	}

	assert.Eventually(t, func() bool {
		_, _, _, released := d.snapshot()
		return released[1] == 1
	}, time.Second, time.Millisecond)

	_, _, _, released := d.snapshot()
	assert.Zero(t, released[2])
	assert.Equal(t, 1, r.Stats().Pending)
}

func TestRecycler_FenceTimeoutStillReleases(t *testing.T) {
	d := newFakeDisplay()
	d.fence = func(ctx context.Context, _ *pipeline.Frame) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r := pipeline.NewRecycler(d,
		pipeline.WithThreshold(1),
		pipeline.WithFenceTimeout(10*ms),
		pipeline.WithIdleInterval(time.Millisecond),
	)
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Enqueue(newFrame(1, 0))

	assert.Eventually(t, func() bool {
		_, _, _, released := d.snapshot()
		return released[1] == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), r.Stats().FenceTimeouts)
}

func TestRecycler_FenceErrorStillReleases(t *testing.T) {
	d := newFakeDisplay()
	d.fence = func(context.Context, *pipeline.Frame) error { return errors.New("bad fence") }
	r := pipeline.NewRecycler(d, pipeline.WithThreshold(1), pipeline.WithIdleInterval(time.Millisecond))
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Enqueue(newFrame(7, 0))

	assert.Eventually(t, func() bool {
		return r.Stats().Released == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), r.Stats().FenceErrors)
}

func TestRecycler_StopInterruptsFenceWait(t *testing.T) {
	d := newFakeDisplay()
	d.fence = func(ctx context.Context, _ *pipeline.Frame) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r := pipeline.NewRecycler(d, pipeline.WithThreshold(2), pipeline.WithFenceTimeout(time.Hour))
	require.NoError(t, r.Start())

	r.Enqueue(newFrame(1, 0))
	r.Enqueue(newFrame(2, 0))
	<-d.fenceStarted

	start := time.Now()
	require.NoError(t, r.Stop())
	assert.Less(t, time.Since(start), 500*ms)

	_, _, _, released := d.snapshot()
	assert.Equal(t, map[int]int{1: 1, 2: 1}, released)
}

func TestRecycler_EnqueueWhileStoppedReleasesAtOnce(t *testing.T) {
	d := newFakeDisplay()
	r := pipeline.NewRecycler(d)

	r.Enqueue(newFrame(3, 0))

	_, _, _, released := d.snapshot()
	assert.Equal(t, map[int]int{3: 1}, released)
	assert.Empty(t, d.fenceStarted)
}

func TestRecycler_RearmsAfterRestart(t *testing.T) {
	d := newFakeDisplay()
	r := pipeline.NewRecycler(d, pipeline.WithThreshold(2), pipeline.WithIdleInterval(time.Millisecond))

	require.NoError(t, r.Start())
	r.Enqueue(newFrame(1, 0))
	r.Enqueue(newFrame(2, 0))
	<-d.fenceStarted
	require.NoError(t, r.Stop())
	assert.False(t, r.Stats().Armed)

	require.NoError(t, r.Start())
	defer r.Stop()
	r.Enqueue(newFrame(3, 0))
	time.Sleep(20 * ms)
	assert.Empty(t, d.fenceStarted)
}
