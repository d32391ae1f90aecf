package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/vidrender/internal/poll"
)

// ErrFenceTimeout is returned when a fence fd does not signal in time.
var ErrFenceTimeout = errors.New("fence wait timed out")

// WaitFenceFd waits for a sync-file or dma-buf fd to become readable, which
// is how the kernel signals fence completion. A cancelled ctx interrupts the
// wait through the poller's flushing path.
func WaitFenceFd(ctx context.Context, fd int, timeout time.Duration) error {
	if fd < 0 {
		return nil
	}

	p, err := poll.New(true)
	if err != nil {
		return err
	}
	defer p.Close()

	p.AddFd(fd)
	if err := p.SetReadable(fd, true); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { p.SetFlushing(true) })
	defer stop()

	n, err := p.Wait(timeout)
	switch {
	case errors.Is(err, poll.ErrBusy):
		return ctx.Err()
	case err != nil:
		return fmt.Errorf("fence fd %d: %w", fd, err)
	case n == 0:
		return ErrFenceTimeout
	case p.HasError(fd):
		return fmt.Errorf("fence fd %d: poll error", fd)
	}
	return nil
}
