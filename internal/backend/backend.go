// Package backend defines the contract every display back end implements and
// the buffer descriptor the pipeline moves around.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/domain/entity"
)

var (
	// ErrUnavailable wraps failures to bring a back end up: missing vendor
	// library or symbol, no device, no compositor socket.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotOpen is returned by operations that need an open back end.
	ErrNotOpen = errors.New("backend not open")
	// ErrUnknownBuffer is returned for a buffer the back end never imported.
	ErrUnknownBuffer = errors.New("unknown buffer")
)

// Kind names a back end implementation.
type Kind string

const (
	KindDRM         Kind = "drm"
	KindVideoTunnel Kind = "videotunnel"
	KindWesteros    Kind = "westeros"
	KindWayland     Kind = "wayland"
)

// Events is the back channel a back end uses to reach its coordinator.
type Events interface {
	Notify(msg entity.MsgType, detail any)
}

// LevelSetter is implemented by Events that accept a log level pushed by the
// display server.
type LevelSetter interface {
	SetLogLevel(level zerolog.Level)
}

// Caps describes how the pipeline must drive a back end.
type Caps struct {
	// RecycleThreshold is how many posted buffers the display may still be
	// reading at once.
	RecycleThreshold int
	// SelfPaced back ends schedule presentation themselves; the poster then
	// hands frames over as soon as they arrive.
	SelfPaced bool
	// Formats maps pipeline pixel formats to the back end's fourccs.
	Formats FormatTable
}

// Backend is implemented by the DRM, video-tunnel, Westeros and Wayland back
// ends. A coordinator resolves its Backend once and drives it from the poster,
// recycler and caller goroutines; implementations must be safe for that.
type Backend interface {
	Kind() Kind
	Caps() Caps

	Open(ctx context.Context, events Events) error
	Close() error

	// Import wraps buf for the back end. Plane descriptors are duplicated;
	// the returned Buffer owns the duplicates and Free closes them.
	Import(buf *entity.RenderBuffer, format entity.Fourcc) (*Buffer, error)
	Free(b *Buffer) error

	Post(ctx context.Context, b *Buffer) error
	// WaitFence blocks until the display has finished reading b or ctx ends.
	WaitFence(ctx context.Context, b *Buffer) error

	// WaitRefresh blocks until the next refresh tick and returns its
	// CLOCK_MONOTONIC timestamp.
	WaitRefresh(ctx context.Context) (time.Duration, error)
	RefreshInterval() time.Duration

	// Geometry returns the output size, or a zero Rect when unknown.
	Geometry() entity.Rect
	MutePlane(mute bool) error
}

// Optional capabilities. The coordinator type-asserts for them.
type (
	Flusher interface {
		Flush() error
	}
	Pauser interface {
		Pause() error
		Resume() error
	}
	WindowSetter interface {
		SetWindow(r entity.Rect) error
	}
	CropSetter interface {
		SetCrop(r entity.Rect) error
	}
	RateSetter interface {
		SetFrameRate(r entity.Rational) error
	}
	KeepLastFramer interface {
		SetKeepLastFrame(keep bool) error
	}
	ImmediateSetter interface {
		SetImmediateOutput(on bool) error
	}
	PipSetter interface {
		SetPip(pip bool) error
	}
	// Hider is implemented by back ends that hide video some other way
	// than muting their plane.
	Hider interface {
		SetHideVideo(hide bool) error
	}
	TunnelSetter interface {
		SetTunnelID(id int) error
	}
)
