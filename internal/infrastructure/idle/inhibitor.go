// Package idle keeps the screen awake while video plays, through the XDG
// Desktop Portal Inhibit interface.
package idle

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	portalInterface = "org.freedesktop.portal.Inhibit"
	requestIface    = "org.freedesktop.portal.Request"

	// Inhibit flags from the portal interface.
	flagSuspend = 4
	flagIdle    = 8
)

// Option configures an Inhibitor.
type Option func(*Inhibitor)

// WithBus replaces the session bus connection, mainly for tests.
func WithBus(connect func() (*dbus.Conn, error)) Option {
	return func(i *Inhibitor) { i.connect = connect }
}

func WithLogger(l zerolog.Logger) Option {
	return func(i *Inhibitor) { i.log = l }
}

// Inhibitor holds a reference-counted portal inhibition. Without a session
// bus or a portal it still counts references but inhibits nothing.
type Inhibitor struct {
	log     zerolog.Logger
	connect func() (*dbus.Conn, error)

	mu        sync.Mutex
	conn      *dbus.Conn
	supported bool
	refs      int
	handle    dbus.ObjectPath
	// answered is set once the portal sent Response for handle; the request
	// object is gone and must not be closed.
	answered bool
	stop     chan struct{}
}

// New connects to the session bus and checks for the portal.
func New(opts ...Option) *Inhibitor {
	i := &Inhibitor{
		log:     zerolog.Nop(),
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
	}
	for _, opt := range opts {
		opt(i)
	}

	conn, err := i.connect()
	if err != nil {
		i.log.Debug().Err(err).Msg("idle inhibit: no session bus")
		return i
	}
	i.conn = conn

	var version uint32
	err = conn.Object(portalDest, portalPath).
		Call("org.freedesktop.DBus.Properties.Get", 0, portalInterface, "version").
		Store(&version)
	if err != nil {
		i.log.Debug().Err(err).Msg("idle inhibit: portal not available")
		return i
	}
	i.supported = true
	i.log.Debug().Uint32("version", version).Msg("idle inhibit: portal available")
	return i
}

// Supported reports whether the portal answered at New.
func (i *Inhibitor) Supported() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.supported
}

// Inhibit takes a reference; the first one asks the portal to block idle
// and suspend.
func (i *Inhibitor) Inhibit(reason string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.refs++
	if i.refs > 1 || !i.supported {
		return nil
	}

	// Inhibit(window s, flags u, options a{sv}) -> handle o
	var handle dbus.ObjectPath
	err := i.conn.Object(portalDest, portalPath).Call(portalInterface+".Inhibit", 0,
		"",
		uint32(flagIdle|flagSuspend),
		map[string]dbus.Variant{"reason": dbus.MakeVariant(reason)},
	).Store(&handle)
	if err != nil {
		i.refs--
		return fmt.Errorf("portal inhibit: %w", err)
	}

	i.handle = handle
	i.answered = false
	i.stop = make(chan struct{})
	go i.watch(handle, i.stop)

	i.log.Info().Str("handle", string(handle)).Str("reason", reason).Msg("idle inhibited")
	return nil
}

// watch waits for the Response signal some portals send right after
// Inhibit, which removes the request object.
func (i *Inhibitor) watch(handle dbus.ObjectPath, stop <-chan struct{}) {
	rule := fmt.Sprintf("type='signal',interface='%s',member='Response',path='%s'", requestIface, handle)
	if err := i.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		i.log.Debug().Err(err).Msg("idle inhibit: add match failed")
		return
	}

	signals := make(chan *dbus.Signal, 1)
	i.conn.Signal(signals)
	defer func() {
		i.conn.RemoveSignal(signals)
		_ = i.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err
	}()

	for {
		select {
		case sig := <-signals:
			if sig == nil {
				return
			}
			if sig.Path == handle && sig.Name == requestIface+".Response" {
				i.mu.Lock()
				if i.handle == handle {
					i.answered = true
				}
				i.mu.Unlock()
				return
			}
		case <-stop:
			return
		}
	}
}

// Uninhibit drops a reference; the last one releases the inhibition.
func (i *Inhibitor) Uninhibit() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.refs == 0 {
		return nil
	}
	i.refs--
	if i.refs > 0 {
		return nil
	}
	i.releaseLocked()
	return nil
}

func (i *Inhibitor) releaseLocked() {
	if i.handle == "" {
		return
	}
	if !i.answered && i.conn != nil {
		_ = i.conn.Object(portalDest, i.handle).Call(requestIface+".Close", 0).Err
	}
	if i.stop != nil {
		close(i.stop)
		i.stop = nil
	}
	i.log.Info().Str("handle", string(i.handle)).Msg("idle released")
	i.handle = ""
	i.answered = false
}

// Inhibited reports whether any reference is held.
func (i *Inhibitor) Inhibited() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs > 0
}

// Close releases any inhibition and the bus connection.
func (i *Inhibitor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.releaseLocked()
	i.refs = 0
	if i.conn == nil {
		return nil
	}
	err := i.conn.Close()
	i.conn = nil
	i.supported = false
	return err
}
