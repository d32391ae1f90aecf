package westeros

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/poll"
)

const (
	// DefaultSocketName is the server socket under the runtime directory.
	DefaultSocketName = "video"
	// DefaultRuntimeDir is used when XDG_RUNTIME_DIR is unset.
	DefaultRuntimeDir = "/run"

	recvBufferSize = 256
	maxSunPath     = 108
)

var (
	// ErrClosed is returned by Receive after Interrupt or Close.
	ErrClosed = errors.New("westeros: connection closed")
	// ErrShortWrite is returned when the kernel took part of a message.
	ErrShortWrite = errors.New("westeros: short write")
	// ErrPathTooLong is returned for a socket path that does not fit sun_path.
	ErrPathTooLong = errors.New("westeros: socket path too long")
)

// SocketPath returns the server socket path for name, rooted at dir, or at
// XDG_RUNTIME_DIR, or at /run.
func SocketPath(dir, name string) string {
	if dir == "" {
		dir = os.Getenv("XDG_RUNTIME_DIR")
	}
	if dir == "" {
		dir = DefaultRuntimeDir
	}
	if name == "" {
		name = DefaultSocketName
	}
	return filepath.Join(dir, name)
}

// Conn is a client connection to the video server. Sends may come from any
// goroutine; Receive must be called from one goroutine at a time.
type Conn struct {
	fd     int
	poller *poll.Poller

	sendMu sync.Mutex
	// pending holds a partial message carried over to the next Receive.
	pending []byte

	closeOnce sync.Once
}

// Dial connects to the server socket at path.
func Dial(path string) (*Conn, error) {
	if len(path)+1 > maxSunPath {
		return nil, fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(path))
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	c, err := NewConn(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return c, nil
}

// NewConn wraps an already connected stream socket. The Conn owns fd.
func NewConn(fd int) (*Conn, error) {
	p, err := poll.New(true)
	if err != nil {
		return nil, err
	}
	p.AddFd(fd)
	if err := p.SetReadable(fd, true); err != nil {
		_ = p.Close()
		return nil, err
	}
	return &Conn{fd: fd, poller: p}, nil
}

// Send writes one message. fds are duplicated for the transfer and the
// duplicates closed once the message is out.
func (c *Conn) Send(msg []byte, fds ...int) error {
	var oob []byte
	if len(fds) > 0 {
		dups := make([]int, 0, len(fds))
		defer func() {
			for _, fd := range dups {
				_ = unix.Close(fd)
			}
		}()
		for _, fd := range fds {
			dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
			if err != nil {
				return fmt.Errorf("failed to dup fd %d: %w", fd, err)
			}
			dups = append(dups, dup)
		}
		oob = unix.UnixRights(dups...)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for {
		n, err := unix.SendmsgN(c.fd, msg, oob, nil, unix.MSG_NOSIGNAL)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("sendmsg: %w", err)
		}
		if n != len(msg) {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(msg))
		}
		return nil
	}
}

// Receive blocks until the server sends something and returns the complete
// messages read. It returns ErrClosed once interrupted and io.EOF when the
// server hangs up.
func (c *Conn) Receive() ([]Event, error) {
	if _, err := c.poller.Wait(-1); err != nil {
		if errors.Is(err, poll.ErrBusy) {
			return nil, ErrClosed
		}
		return nil, err
	}

	buf := make([]byte, recvBufferSize)
	var n int
	for {
		var err error
		n, err = unix.Read(c.fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recv: %w", err)
		}
		break
	}
	if n == 0 {
		return nil, io.EOF
	}

	data := append(c.pending, buf[:n]...)
	events, used := Decode(data)
	c.pending = append(c.pending[:0], data[used:]...)
	return events, nil
}

// Interrupt makes a blocked and every later Receive return ErrClosed.
func (c *Conn) Interrupt() {
	c.poller.SetFlushing(true)
}

// Close interrupts Receive and closes the socket. Callers must make sure
// nothing is still inside Receive.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Interrupt()
		err = errors.Join(c.poller.Close(), unix.Close(c.fd))
	})
	return err
}
