package drm

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/clock"
)

// DefaultDevice is the card node opened for vblank waits.
const DefaultDevice = "/dev/dri/card0"

const drmVblankRelative = 0x1

// waitVblank mirrors union drm_wait_vblank. Sec doubles as request.signal.
type waitVblank struct {
	typ      uint32
	sequence uint32
	sec      int // C long
	usec     int // C long
}

var ioctlWaitVblank = iowr('d', 0x3a, unsafe.Sizeof(waitVblank{}))

func iowr(typ, nr byte, size uintptr) uintptr {
	const (
		dirRead  = 2
		dirWrite = 1
	)
	return (dirRead|dirWrite)<<30 | size<<16 | uintptr(typ)<<8 | uintptr(nr)
}

// Card is the vblank source of a DRM device.
type Card interface {
	Fd() int
	// WaitVBlank blocks until the next vblank and returns its timestamp.
	WaitVBlank(ctx context.Context) (time.Duration, error)
	Close() error
}

type card struct {
	fd int
}

// OpenCard opens a DRM card node.
func OpenCard(path string) (Card, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &card{fd: fd}, nil
}

func (c *card) Fd() int { return c.fd }

// WaitVBlank runs the ioctl on its own goroutine so that a cancelled ctx
// returns at once; the ioctl itself finishes on the next vblank.
func (c *card) WaitVBlank(ctx context.Context) (time.Duration, error) {
	type result struct {
		at  time.Duration
		err error
	}
	ch := make(chan result, 1)
	fd := c.fd
	go func() {
		at, err := waitVBlank(fd)
		ch <- result{at, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		return r.at, r.err
	}
}

func waitVBlank(fd int) (time.Duration, error) {
	for {
		vbl := waitVblank{typ: drmVblankRelative, sequence: 1}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlWaitVblank, uintptr(unsafe.Pointer(&vbl)))
		if errno == 0 {
			return clock.FromTimeval(int64(vbl.sec), int64(vbl.usec)), nil
		}
		if errors.Is(errno, unix.EINTR) {
			continue
		}
		return 0, fmt.Errorf("DRM_IOCTL_WAIT_VBLANK: %w", errno)
	}
}

func (c *card) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}
