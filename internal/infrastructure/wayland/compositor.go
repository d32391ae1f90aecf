// Package wayland presents frames on a Wayland compositor through
// zwp_linux_dmabuf_v1 buffers attached to a fullscreen xdg toplevel.
package wayland

import (
	"time"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/domain/entity"
)

// Output is the current mode of the output the surface is shown on.
type Output struct {
	Width, Height int
	// RefreshMHz is the refresh rate in millihertz, as wl_output reports it.
	RefreshMHz int
}

// Interval returns the refresh period, or zero when unknown.
func (o Output) Interval() time.Duration {
	if o.RefreshMHz <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * 1000 / int64(o.RefreshMHz))
}

// Listener receives the compositor events the back end paces on. It is
// called from the goroutine running Dispatch.
type Listener interface {
	BufferReleased(id uint32)
	FrameDone(at time.Duration)
}

// Compositor is the part of a Wayland connection the back end drives.
type Compositor interface {
	// Formats lists the dma-buf formats the compositor advertised.
	Formats() []entity.Fourcc
	Output() Output

	// CreateBuffer wraps desc's planes in a wl_buffer and returns its id.
	CreateBuffer(desc *backend.Buffer) (uint32, error)
	DestroyBuffer(id uint32) error
	// Present attaches the buffer, damages dst, asks for a frame callback
	// and commits.
	Present(id uint32, dst entity.Rect) error
	// Clear attaches no buffer, which hides the video.
	Clear() error

	// Dispatch blocks until events arrive and delivers them.
	Dispatch() error
	// Interrupt makes a blocked and every later Dispatch return ErrClosed.
	Interrupt()
	Close() error
}

// Connector opens a compositor connection delivering events to l.
type Connector func(l Listener) (Compositor, error)
