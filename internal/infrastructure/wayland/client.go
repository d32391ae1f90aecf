package wayland

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/clock"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/poll"
)

var (
	// ErrClosed is returned by Dispatch after Interrupt or Close.
	ErrClosed = errors.New("wayland: connection closed")
	// ErrMissingGlobal is returned when the compositor lacks a required interface.
	ErrMissingGlobal = errors.New("wayland: missing global")
)

const (
	displayID = 1

	// DRM_FORMAT_MOD_INVALID: let the driver pick the layout.
	modInvalidHi = 0x00ffffff
	modInvalidLo = 0xffffffff

	outputModeCurrent = 1
	recvSize          = 4096
)

// Request opcodes, by interface.
const (
	displaySync        = 0
	displayGetRegistry = 1
	registryBind       = 0

	compositorCreateSurface = 0

	surfaceDestroy = 0
	surfaceAttach  = 1
	surfaceDamage  = 2
	surfaceFrame   = 3
	surfaceCommit  = 6

	bufferDestroy = 0

	dmabufCreateParams = 1
	paramsDestroy      = 0
	paramsAdd          = 1
	paramsCreateImmed  = 3

	wmBaseGetXdgSurface = 2
	wmBasePong          = 3

	xdgSurfaceDestroy      = 0
	xdgSurfaceGetToplevel  = 1
	xdgSurfaceAckConfigure = 4

	toplevelDestroy       = 0
	toplevelSetTitle      = 2
	toplevelSetAppID      = 3
	toplevelSetFullscreen = 11
)

// Event opcodes.
const (
	displayError    = 0
	displayDeleteID = 1
	registryGlobal  = 0
	callbackDone    = 0
	bufferRelease   = 0
	dmabufFormat    = 0
	outputMode      = 1
	wmBasePing      = 0
	xdgConfigure    = 0
)

// DisplayPath returns the compositor socket path from WAYLAND_DISPLAY and
// XDG_RUNTIME_DIR.
func DisplayPath() string {
	return displayPath(os.Getenv("WAYLAND_DISPLAY"))
}

// ResolveDisplay returns the socket path for a configured display name,
// falling back to DisplayPath when name is empty.
func ResolveDisplay(name string) string {
	if name == "" {
		return DisplayPath()
	}
	return displayPath(name)
}

func displayPath(name string) string {
	if name == "" {
		name = "wayland-0"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), name)
}

type global struct {
	name    uint32
	version uint32
}

// Client is a minimal Wayland client: one fullscreen surface showing
// dma-buf buffers.
type Client struct {
	fd     int
	poller *poll.Poller
	log    zerolog.Logger
	l      Listener

	sendMu sync.Mutex
	recv   []byte

	mu       sync.Mutex
	nextID   uint32
	handlers map[uint32]func(opcode uint16, a *argReader)
	globals  map[string]global
	formats  []entity.Fourcc
	output   Output
	protoErr error

	compositor, dmabuf, wmBase, wlOutput uint32
	surface, xdgSurface, toplevel        uint32
	configured                           bool

	closeOnce sync.Once
}

var _ Compositor = (*Client)(nil)

// Connect dials the compositor at DisplayPath and sets up the surface.
func Connect(l Listener, log zerolog.Logger) (*Client, error) {
	return Dial(DisplayPath(), l, log)
}

// Dial connects to the compositor socket at path and sets up the surface.
func Dial(path string, l Listener, log zerolog.Logger) (*Client, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	c, err := newClient(fd, l, log)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := c.setup(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(fd int, l Listener, log zerolog.Logger) (*Client, error) {
	p, err := poll.New(true)
	if err != nil {
		return nil, err
	}
	p.AddFd(fd)
	if err := p.SetReadable(fd, true); err != nil {
		_ = p.Close()
		return nil, err
	}
	c := &Client{
		fd:       fd,
		poller:   p,
		log:      log,
		l:        l,
		nextID:   displayID + 1,
		handlers: make(map[uint32]func(uint16, *argReader)),
		globals:  make(map[string]global),
	}
	c.handlers[displayID] = c.onDisplay
	return c, nil
}

func (c *Client) newID(h func(uint16, *argReader)) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if h == nil {
		h = func(uint16, *argReader) {}
	}
	c.handlers[id] = h
	return id
}

func (c *Client) send(r *request) error {
	msg := r.bytes()
	var oob []byte
	if len(r.fds) > 0 {
		oob = unix.UnixRights(r.fds...)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		n, err := unix.SendmsgN(c.fd, msg, oob, nil, unix.MSG_NOSIGNAL)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wayland send: %w", err)
		}
		if n != len(msg) {
			return fmt.Errorf("wayland send: short write %d of %d", n, len(msg))
		}
		return nil
	}
}

// setup binds the globals, creates the fullscreen surface and waits for
// its first configure.
func (c *Client) setup() error {
	registry := c.newID(c.onRegistry)
	if err := c.send(newRequest(displayID, displayGetRegistry).uint(registry)); err != nil {
		return err
	}
	if err := c.roundtrip(); err != nil {
		return err
	}

	var err error
	if c.compositor, err = c.bind(registry, "wl_compositor", 4, nil); err != nil {
		return err
	}
	if c.dmabuf, err = c.bind(registry, "zwp_linux_dmabuf_v1", 3, c.onDmabuf); err != nil {
		return err
	}
	if c.wmBase, err = c.bind(registry, "xdg_wm_base", 1, c.onWmBase); err != nil {
		return err
	}
	if c.wlOutput, err = c.bind(registry, "wl_output", 2, c.onOutput); err != nil {
		c.log.Warn().Err(err).Msg("no output, refresh rate unknown")
		c.wlOutput = 0
	}

	c.surface = c.newID(nil)
	c.xdgSurface = c.newID(c.onXdgSurface)
	c.toplevel = c.newID(nil)
	for _, r := range []*request{
		newRequest(c.compositor, compositorCreateSurface).uint(c.surface),
		newRequest(c.wmBase, wmBaseGetXdgSurface).uint(c.xdgSurface).uint(c.surface),
		newRequest(c.xdgSurface, xdgSurfaceGetToplevel).uint(c.toplevel),
		newRequest(c.toplevel, toplevelSetTitle).string("vidrender"),
		newRequest(c.toplevel, toplevelSetAppID).string("vidrender"),
		newRequest(c.toplevel, toplevelSetFullscreen).uint(c.wlOutput),
		newRequest(c.surface, surfaceCommit),
	} {
		if err := c.send(r); err != nil {
			return err
		}
	}

	for !c.isConfigured() {
		if err := c.roundtrip(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) isConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configured
}

func (c *Client) bind(registry uint32, iface string, maxVersion uint32, h func(uint16, *argReader)) (uint32, error) {
	c.mu.Lock()
	g, ok := c.globals[iface]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingGlobal, iface)
	}
	version := min(g.version, maxVersion)
	id := c.newID(h)
	r := newRequest(registry, registryBind).uint(g.name).string(iface).uint(version).uint(id)
	return id, c.send(r)
}

// roundtrip sends wl_display.sync and dispatches until it is done.
func (c *Client) roundtrip() error {
	done := false
	cb := c.newID(func(op uint16, _ *argReader) {
		if op == callbackDone {
			done = true
		}
	})
	if err := c.send(newRequest(displayID, displaySync).uint(cb)); err != nil {
		return err
	}
	for !done {
		if err := c.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch reads what the compositor sent and runs the event handlers.
func (c *Client) Dispatch() error {
	if _, err := c.poller.Wait(-1); err != nil {
		if errors.Is(err, poll.ErrBusy) {
			return ErrClosed
		}
		return err
	}

	buf := make([]byte, recvSize)
	oob := make([]byte, unix.CmsgSpace(28*4))
	var n, oobn int
	for {
		var err error
		n, oobn, _, _, err = unix.Recvmsg(c.fd, buf, oob, unix.MSG_CMSG_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wayland recv: %w", err)
		}
		break
	}
	if oobn > 0 {
		closeRights(oob[:oobn])
	}
	if n == 0 {
		return io.EOF
	}

	c.recv = append(c.recv, buf[:n]...)
	events, used, err := splitEvents(c.recv)
	c.recv = append(c.recv[:0], c.recv[used:]...)
	for _, ev := range events {
		c.deliver(ev)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protoErr
}

// closeRights drops descriptors the compositor sent; nothing we bind
// carries any we use.
func closeRights(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
	}
}

func (c *Client) deliver(ev event) {
	c.mu.Lock()
	h, ok := c.handlers[ev.object]
	c.mu.Unlock()
	if !ok {
		c.log.Trace().Uint32("object", ev.object).Uint16("opcode", ev.opcode).Msg("event for dead object")
		return
	}
	a := &argReader{b: ev.args}
	h(ev.opcode, a)
	if a.err != nil {
		c.log.Warn().Err(a.err).Uint32("object", ev.object).Uint16("opcode", ev.opcode).Msg("malformed event")
	}
}

func (c *Client) onDisplay(op uint16, a *argReader) {
	switch op {
	case displayError:
		object, code, msg := a.uint(), a.uint(), a.string()
		c.mu.Lock()
		c.protoErr = fmt.Errorf("wayland protocol error on object %d, code %d: %s", object, code, msg)
		c.mu.Unlock()
	case displayDeleteID:
		id := a.uint()
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

func (c *Client) onRegistry(op uint16, a *argReader) {
	if op != registryGlobal {
		return
	}
	name, iface, version := a.uint(), a.string(), a.uint()
	if a.err != nil {
		return
	}
	c.mu.Lock()
	if _, dup := c.globals[iface]; !dup {
		c.globals[iface] = global{name: name, version: version}
	}
	c.mu.Unlock()
}

func (c *Client) onDmabuf(op uint16, a *argReader) {
	if op != dmabufFormat {
		return
	}
	f := entity.Fourcc(a.uint())
	c.mu.Lock()
	c.formats = append(c.formats, f)
	c.mu.Unlock()
}

func (c *Client) onOutput(op uint16, a *argReader) {
	if op != outputMode {
		return
	}
	flags, w, h, refresh := a.uint(), a.int(), a.int(), a.int()
	if a.err != nil || flags&outputModeCurrent == 0 {
		return
	}
	c.mu.Lock()
	c.output = Output{Width: int(w), Height: int(h), RefreshMHz: int(refresh)}
	c.mu.Unlock()
}

func (c *Client) onWmBase(op uint16, a *argReader) {
	if op != wmBasePing {
		return
	}
	serial := a.uint()
	if err := c.send(newRequest(c.wmBase, wmBasePong).uint(serial)); err != nil {
		c.log.Warn().Err(err).Msg("pong failed")
	}
}

func (c *Client) onXdgSurface(op uint16, a *argReader) {
	if op != xdgConfigure {
		return
	}
	serial := a.uint()
	if err := c.send(newRequest(c.xdgSurface, xdgSurfaceAckConfigure).uint(serial)); err != nil {
		c.log.Warn().Err(err).Msg("ack configure failed")
		return
	}
	c.mu.Lock()
	c.configured = true
	c.mu.Unlock()
}

func (c *Client) Formats() []entity.Fourcc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entity.Fourcc(nil), c.formats...)
}

func (c *Client) Output() Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// CreateBuffer builds a wl_buffer with create_immed. A compositor that
// rejects the planes reports it as a protocol error on the next Dispatch.
func (c *Client) CreateBuffer(desc *backend.Buffer) (uint32, error) {
	params := c.newID(nil)
	if err := c.send(newRequest(c.dmabuf, dmabufCreateParams).uint(params)); err != nil {
		return 0, err
	}
	for i, p := range desc.Planes {
		r := newRequest(params, paramsAdd).fd(p.Fd).
			uint(uint32(i)).uint(uint32(p.Offset)).uint(uint32(p.Stride)).
			uint(modInvalidHi).uint(modInvalidLo)
		if err := c.send(r); err != nil {
			return 0, err
		}
	}

	var id uint32
	id = c.newID(func(op uint16, _ *argReader) {
		if op == bufferRelease && c.l != nil {
			c.l.BufferReleased(id)
		}
	})
	r := newRequest(params, paramsCreateImmed).uint(id).
		int(int32(desc.Width)).int(int32(desc.Height)).uint(uint32(desc.Fourcc)).uint(0)
	if err := c.send(r); err != nil {
		return 0, err
	}
	return id, c.send(newRequest(params, paramsDestroy))
}

func (c *Client) DestroyBuffer(id uint32) error {
	return c.send(newRequest(id, bufferDestroy))
}

func (c *Client) Present(id uint32, dst entity.Rect) error {
	cb := c.newID(func(op uint16, a *argReader) {
		if op == callbackDone && c.l != nil {
			c.l.FrameDone(clock.Now())
		}
	})
	w, h := int32(dst.W), int32(dst.H)
	if !dst.Valid() {
		w, h = 1<<31-1, 1<<31-1
	}
	for _, r := range []*request{
		newRequest(c.surface, surfaceAttach).uint(id).int(0).int(0),
		newRequest(c.surface, surfaceDamage).int(0).int(0).int(w).int(h),
		newRequest(c.surface, surfaceFrame).uint(cb),
		newRequest(c.surface, surfaceCommit),
	} {
		if err := c.send(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Clear() error {
	if err := c.send(newRequest(c.surface, surfaceAttach).uint(0).int(0).int(0)); err != nil {
		return err
	}
	return c.send(newRequest(c.surface, surfaceCommit))
}

func (c *Client) Interrupt() { c.poller.SetFlushing(true) }

// Close destroys the surface and closes the connection. Nothing may be
// inside Dispatch.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Interrupt()
		if c.toplevel != 0 {
			_ = c.send(newRequest(c.toplevel, toplevelDestroy))
			_ = c.send(newRequest(c.xdgSurface, xdgSurfaceDestroy))
			_ = c.send(newRequest(c.surface, surfaceDestroy))
		}
		err = errors.Join(c.poller.Close(), unix.Close(c.fd))
	})
	return err
}
