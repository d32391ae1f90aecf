// Package pipeline paces decoded frames onto a display and recycles their
// buffers once the display has finished reading them.
//
// A Frame moves through exactly one owner at a time: the Poster queue, the
// in-flight post, then the Recycler queue. Every frame leaves the pipeline
// through exactly one of Display.FrameDropped or Releaser.FrameReleased.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/vidrender/internal/domain/entity"
)

// ErrNotRunning is returned when a stage is asked to stop before it started.
var ErrNotRunning = errors.New("pipeline: not running")

// Descriptor is the back end's handle for an imported buffer.
type Descriptor interface {
	// SetDestination overrides where the buffer is composed on screen.
	SetDestination(r entity.Rect)
}

// Frame wraps a borrowed RenderBuffer with its target presentation time.
type Frame struct {
	Buffer      *entity.RenderBuffer
	DisplayTime time.Duration // CLOCK_MONOTONIC
	Desc        Descriptor
}

func (f *Frame) String() string {
	if f == nil || f.Buffer == nil {
		return "frame(nil)"
	}
	return fmt.Sprintf("frame(id=%d pts=%d at=%s)", f.Buffer.ID, f.Buffer.Pts, f.DisplayTime)
}

// Display is what the Poster needs from its coordinator.
type Display interface {
	// WaitRefresh blocks until the next refresh tick and returns its timestamp.
	// It must return promptly once ctx is cancelled.
	WaitRefresh(ctx context.Context) (time.Duration, error)
	RefreshInterval() time.Duration
	PostFrame(ctx context.Context, f *Frame) error
	// FrameDropped fires the dropped then release callbacks and frees f.
	FrameDropped(f *Frame)
	FrameDisplayed(f *Frame)
}

// Releaser is what the Recycler needs from its coordinator.
type Releaser interface {
	// WaitFence blocks until the display no longer reads f, or ctx ends.
	WaitFence(ctx context.Context, f *Frame) error
	// FrameReleased fires the release callback and frees f.
	FrameReleased(f *Frame)
}

// FrameSink receives frames that were posted successfully.
type FrameSink interface {
	Enqueue(f *Frame)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
