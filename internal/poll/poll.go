// Package poll waits on a set of descriptors and lets another goroutine cancel
// a blocked wait through an internal wakeup socket.
package poll

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyWaiting is returned when another goroutine is blocked in Wait.
	ErrAlreadyWaiting = errors.New("poll: already waiting")
	// ErrBusy is returned by Wait while the poller is flushing.
	ErrBusy = errors.New("poll: flushing")
	// ErrUnknownFd is returned when an interest change targets an fd that was never added.
	ErrUnknownFd = errors.New("poll: unknown fd")
)

// Poller multiplexes readiness over a set of descriptors.
type Poller struct {
	mu      sync.Mutex
	fds     []unix.PollFd
	revents map[int32]int16

	controllable bool
	ctlRead      int
	ctlWrite     int

	ctlMu   sync.Mutex
	pending int

	waiting  atomic.Bool
	flushing atomic.Bool
}

// New creates a poller. A controllable poller owns a socketpair used by
// SetFlushing to interrupt Wait.
func New(controllable bool) (*Poller, error) {
	p := &Poller{
		revents:      make(map[int32]int16),
		controllable: controllable,
		ctlRead:      -1,
		ctlWrite:     -1,
	}
	if !controllable {
		return p, nil
	}

	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create wakeup socketpair: %w", err)
	}
	p.ctlRead, p.ctlWrite = pair[0], pair[1]
	return p, nil
}

// Close releases the wakeup socketpair. Watched descriptors are left open.
func (p *Poller) Close() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	var errs []error
	if p.ctlWrite >= 0 {
		errs = append(errs, unix.Close(p.ctlWrite))
		p.ctlWrite = -1
	}
	if p.ctlRead >= 0 {
		errs = append(errs, unix.Close(p.ctlRead))
		p.ctlRead = -1
	}
	p.pending = 0
	return errors.Join(errs...)
}

// AddFd starts watching fd with no interest set.
func (p *Poller) AddFd(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.indexLocked(fd) >= 0 {
		return
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd)})
}

// RemoveFd stops watching fd.
func (p *Poller) RemoveFd(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.indexLocked(fd)
	if i < 0 {
		return ErrUnknownFd
	}
	p.fds = append(p.fds[:i], p.fds[i+1:]...)
	delete(p.revents, int32(fd))
	return nil
}

// SetReadable toggles read interest on fd.
func (p *Poller) SetReadable(fd int, on bool) error {
	return p.setEvents(fd, unix.POLLIN|unix.POLLPRI, on)
}

// SetWritable toggles write interest on fd.
func (p *Poller) SetWritable(fd int, on bool) error {
	return p.setEvents(fd, unix.POLLOUT, on)
}

func (p *Poller) setEvents(fd int, events int16, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.indexLocked(fd)
	if i < 0 {
		return ErrUnknownFd
	}
	if on {
		p.fds[i].Events |= events
	} else {
		p.fds[i].Events &^= events
	}
	return nil
}

// IsReadable reports whether the last Wait found fd readable.
func (p *Poller) IsReadable(fd int) bool {
	return p.revent(fd)&(unix.POLLIN|unix.POLLPRI) != 0
}

// IsWritable reports whether the last Wait found fd writable.
func (p *Poller) IsWritable(fd int) bool {
	return p.revent(fd)&unix.POLLOUT != 0
}

// HasClosed reports a hang-up on fd during the last Wait.
func (p *Poller) HasClosed(fd int) bool {
	return p.revent(fd)&unix.POLLHUP != 0
}

// HasError reports an error condition on fd during the last Wait.
func (p *Poller) HasError(fd int) bool {
	return p.revent(fd)&(unix.POLLERR|unix.POLLNVAL) != 0
}

func (p *Poller) revent(fd int) int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revents[int32(fd)]
}

// Wait blocks until a watched fd is ready, the timeout elapses, or the poller
// starts flushing. A negative timeout waits forever. The returned count
// excludes the wakeup socket.
func (p *Poller) Wait(timeout time.Duration) (int, error) {
	if !p.waiting.CompareAndSwap(false, true) {
		return 0, ErrAlreadyWaiting
	}
	defer p.waiting.Store(false)

	if p.flushing.Load() {
		return 0, ErrBusy
	}

	set := p.snapshot()
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	var n int
	for {
		var err error
		n, err = unix.Poll(set, ms)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			if p.flushing.Load() {
				return 0, ErrBusy
			}
			continue
		}
		return 0, fmt.Errorf("poll: %w", err)
	}

	if p.flushing.Load() {
		return 0, ErrBusy
	}

	p.mu.Lock()
	clear(p.revents)
	for _, pfd := range set {
		if p.controllable && int(pfd.Fd) == p.ctlRead {
			if pfd.Revents != 0 && n > 0 {
				n--
			}
			continue
		}
		if pfd.Revents != 0 {
			p.revents[pfd.Fd] = pfd.Revents
		}
	}
	p.mu.Unlock()

	return n, nil
}

// SetFlushing interrupts a blocked Wait and makes further waits fail with
// ErrBusy until flushing is turned off again.
func (p *Poller) SetFlushing(flushing bool) {
	p.flushing.Store(flushing)
	if !p.controllable {
		return
	}
	if flushing {
		p.raiseWakeup()
		return
	}
	p.releaseAllWakeups()
}

// Flushing reports the current flushing state.
func (p *Poller) Flushing() bool {
	return p.flushing.Load()
}

func (p *Poller) snapshot() []unix.PollFd {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := make([]unix.PollFd, 0, len(p.fds)+1)
	for _, pfd := range p.fds {
		pfd.Revents = 0
		set = append(set, pfd)
	}
	if p.controllable && p.ctlRead >= 0 {
		set = append(set, unix.PollFd{Fd: int32(p.ctlRead), Events: unix.POLLIN})
	}
	return set
}

func (p *Poller) indexLocked(fd int) int {
	for i, pfd := range p.fds {
		if int(pfd.Fd) == fd {
			return i
		}
	}
	return -1
}

// raiseWakeup writes the single wakeup byte if none is pending yet.
func (p *Poller) raiseWakeup() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.ctlWrite < 0 || p.pending > 0 {
		return
	}
	for {
		_, err := unix.Write(p.ctlWrite, []byte{'W'})
		if err == nil {
			p.pending++
			return
		}
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func (p *Poller) releaseAllWakeups() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	buf := make([]byte, 1)
	for p.pending > 0 && p.ctlRead >= 0 {
		_, err := unix.Read(p.ctlRead, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		p.pending--
		if err != nil {
			p.pending = 0
		}
	}
}
