package backend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/domain/entity"
)

// Buffer is a back end descriptor for one imported RenderBuffer.
type Buffer struct {
	ID     int
	Fourcc entity.Fourcc
	Width  int
	Height int
	Pts    int64
	Planes []entity.Plane // descriptors owned by this Buffer
	Src    entity.Rect
	Flags  uint32

	// PresentAt is the frame's target display time on CLOCK_MONOTONIC, for
	// back ends that schedule presentation themselves.
	PresentAt time.Duration

	// Native holds the back end's own handle (vendor pointer, compositor object).
	Native any

	mu     sync.Mutex
	dst    entity.Rect
	closed bool
}

// NewBuffer duplicates every plane descriptor of buf. The caller's descriptors
// are never closed by the back end.
func NewBuffer(buf *entity.RenderBuffer, format entity.Fourcc) (*Buffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	planes, err := DupPlanes(buf.Planes)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		ID:     buf.ID,
		Fourcc: format,
		Width:  buf.Width,
		Height: buf.Height,
		Pts:    buf.Pts,
		Planes: planes,
		Src:    entity.Rect{W: buf.Width, H: buf.Height},
	}, nil
}

// SetDestination implements pipeline.Descriptor.
func (b *Buffer) SetDestination(r entity.Rect) {
	b.mu.Lock()
	b.dst = r
	b.mu.Unlock()
}

// Destination returns the current on-screen rectangle.
func (b *Buffer) Destination() entity.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dst
}

// Fd returns the descriptor of plane i, or -1.
func (b *Buffer) Fd(i int) int {
	if i < 0 || i >= len(b.Planes) {
		return -1
	}
	return b.Planes[i].Fd
}

// Close closes the duplicated descriptors. Only the first call has an effect.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	planes := b.Planes
	b.mu.Unlock()

	return closePlanes(planes)
}

// Disown records that the plane descriptors now belong to someone else,
// typically a vendor library that closes them when it frees its own buffer.
// Close becomes a no-op.
func (b *Buffer) Disown() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Closed reports whether Close or Disown has run.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// DupPlanes duplicates each plane descriptor with close-on-exec set.
// On failure the duplicates made so far are closed.
func DupPlanes(planes []entity.Plane) ([]entity.Plane, error) {
	out := make([]entity.Plane, 0, len(planes))
	for i, p := range planes {
		fd, err := unix.FcntlInt(uintptr(p.Fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			_ = closePlanes(out)
			return nil, fmt.Errorf("failed to dup plane %d fd %d: %w", i, p.Fd, err)
		}
		p.Fd = fd
		out = append(out, p)
	}
	return out, nil
}

func closePlanes(planes []entity.Plane) error {
	var errs []error
	for _, p := range planes {
		if p.Fd < 0 {
			continue
		}
		if err := unix.Close(p.Fd); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", p.Fd, err))
		}
	}
	return errors.Join(errs...)
}
