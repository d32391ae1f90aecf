package pipeline_test

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/pipeline"
)

type fakeDesc struct {
	mu   sync.Mutex
	dest entity.Rect
}

func (d *fakeDesc) SetDestination(r entity.Rect) {
	d.mu.Lock()
	d.dest = r
	d.mu.Unlock()
}

func (d *fakeDesc) Destination() entity.Rect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dest
}

func newFrame(id int, at time.Duration) *pipeline.Frame {
	return &pipeline.Frame{
		Buffer:      &entity.RenderBuffer{ID: id, Pts: int64(at)},
		DisplayTime: at,
		Desc:        &fakeDesc{},
	}
}

// ledger records every callback per buffer id.
type ledger struct {
	mu        sync.Mutex
	posted    []int
	displayed []int
	dropped   map[int]int
	released  map[int]int
}

func newLedger() *ledger {
	return &ledger{dropped: make(map[int]int), released: make(map[int]int)}
}

func (l *ledger) snapshot() (posted, displayed []int, dropped, released map[int]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped = make(map[int]int, len(l.dropped))
	for k, v := range l.dropped {
		dropped[k] = v
	}
	released = make(map[int]int, len(l.released))
	for k, v := range l.released {
		released[k] = v
	}
	return append([]int(nil), l.posted...), append([]int(nil), l.displayed...), dropped, released
}

// fakeDisplay implements pipeline.Display and pipeline.Releaser.
type fakeDisplay struct {
	*ledger

	interval time.Duration
	ticks    chan time.Duration
	postErr  error

	fenceStarted chan int
	fence        func(ctx context.Context, f *pipeline.Frame) error
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		ledger:       newLedger(),
		interval:     16 * time.Millisecond,
		ticks:        make(chan time.Duration),
		fenceStarted: make(chan int, 64),
	}
}

func (d *fakeDisplay) WaitRefresh(ctx context.Context) (time.Duration, error) {
	select {
	case t := <-d.ticks:
		return t, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *fakeDisplay) RefreshInterval() time.Duration { return d.interval }

func (d *fakeDisplay) PostFrame(_ context.Context, f *pipeline.Frame) error {
	if d.postErr != nil {
		return d.postErr
	}
	d.mu.Lock()
	d.posted = append(d.posted, f.Buffer.ID)
	d.mu.Unlock()
	return nil
}

func (d *fakeDisplay) FrameDropped(f *pipeline.Frame) {
	d.mu.Lock()
	d.dropped[f.Buffer.ID]++
	d.released[f.Buffer.ID]++
	d.mu.Unlock()
}

func (d *fakeDisplay) FrameDisplayed(f *pipeline.Frame) {
	d.mu.Lock()
	d.displayed = append(d.displayed, f.Buffer.ID)
	d.mu.Unlock()
}

func (d *fakeDisplay) WaitFence(ctx context.Context, f *pipeline.Frame) error {
	select {
	case d.fenceStarted <- f.Buffer.ID:
	default:
	}
	if d.fence != nil {
		return d.fence(ctx, f)
	}
	return nil
}

func (d *fakeDisplay) FrameReleased(f *pipeline.Frame) {
	d.mu.Lock()
	d.released[f.Buffer.ID]++
	d.mu.Unlock()
}

// sinkRecorder collects frames the poster hands on.
type sinkRecorder struct {
	mu     sync.Mutex
	frames []*pipeline.Frame
}

func (s *sinkRecorder) Enqueue(f *pipeline.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *sinkRecorder) ids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.frames))
	for _, f := range s.frames {
		ids = append(ids, f.Buffer.ID)
	}
	return ids
}
