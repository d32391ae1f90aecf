package entity

import "fmt"

// MaxPlanes is the largest number of dma-buf planes a RenderBuffer can carry.
const MaxPlanes = 4

// Plane is one memory plane of a zero-copy buffer.
type Plane struct {
	Fd     int
	Stride int
	Offset int
	Size   int
}

// RenderBuffer is a decoded frame handed over by the media pipeline.
// The pipeline keeps ownership; the renderer borrows it from DisplayFrame
// until the release callback fires.
type RenderBuffer struct {
	ID          int
	Planes      []Plane
	Width       int
	Height      int
	Pts         int64 // nanoseconds
	PixelFormat PixelFormat

	// Priv is left untouched for the owner.
	Priv any
}

// PlaneFds returns the descriptors of every plane in order.
func (b *RenderBuffer) PlaneFds() []int {
	fds := make([]int, 0, len(b.Planes))
	for _, p := range b.Planes {
		fds = append(fds, p.Fd)
	}
	return fds
}

// Validate checks the plane layout before a back end imports the buffer.
func (b *RenderBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil render buffer")
	}
	if len(b.Planes) == 0 || len(b.Planes) > MaxPlanes {
		return fmt.Errorf("buffer %d: invalid plane count %d", b.ID, len(b.Planes))
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("buffer %d: invalid size %dx%d", b.ID, b.Width, b.Height)
	}
	for i, p := range b.Planes {
		if p.Fd < 0 {
			return fmt.Errorf("buffer %d: plane %d has no descriptor", b.ID, i)
		}
	}
	return nil
}
