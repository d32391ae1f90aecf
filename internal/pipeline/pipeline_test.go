package pipeline_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidrender/internal/pipeline"
)

// Every frame handed to the poster must come out released exactly once,
// whatever mix of ticks, flushes and stop happens in between.
func TestPipeline_ExactlyOnceRelease(t *testing.T) {
	d := newFakeDisplay()
	d.fence = func(ctx context.Context, _ *pipeline.Frame) error {
		timer := time.NewTimer(time.Duration(rand.IntN(3)) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return nil
	}

	r := pipeline.NewRecycler(d, pipeline.WithIdleInterval(time.Millisecond))
	p := pipeline.NewPoster(d, r)
	require.NoError(t, r.Start())
	require.NoError(t, p.Start())

	done := make(chan struct{})
	go func() {
		defer close(done)
		now := time.Duration(0)
		for {
			now += 16 * ms
			select {
			case d.ticks <- now:
			case <-time.After(50 * ms):
				return
			}
		}
	}()

	const frames = 300
	for i := 0; i < frames; i++ {
		_ = p.Enqueue(newFrame(i, time.Duration(i)*8*ms))
		if i%37 == 0 {
			p.Flush()
		}
		if i%11 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	require.NoError(t, p.Stop())
	require.NoError(t, r.Stop())
	<-done

	_, _, dropped, released := d.snapshot()
	require.Len(t, released, frames)
	for id := 0; id < frames; id++ {
		assert.Equal(t, 1, released[id], "frame %d", id)
		assert.LessOrEqual(t, dropped[id], 1, "frame %d", id)
	}
}
