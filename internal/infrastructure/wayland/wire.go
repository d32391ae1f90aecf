package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wireHeaderLen = 8

var errShortMessage = errors.New("wayland: short message")

var order = binary.NativeEndian

// request builds one client request.
type request struct {
	buf []byte
	fds []int
}

func newRequest(object uint32, opcode uint16) *request {
	r := &request{buf: make([]byte, wireHeaderLen, 64)}
	order.PutUint32(r.buf[0:], object)
	order.PutUint32(r.buf[4:], uint32(opcode))
	return r
}

func (r *request) uint(v uint32) *request {
	r.buf = order.AppendUint32(r.buf, v)
	return r
}

func (r *request) int(v int32) *request { return r.uint(uint32(v)) }

func (r *request) string(s string) *request {
	r.uint(uint32(len(s) + 1))
	r.buf = append(r.buf, s...)
	r.buf = append(r.buf, 0)
	for len(r.buf)%4 != 0 {
		r.buf = append(r.buf, 0)
	}
	return r
}

// fd attaches a descriptor; it travels out of band.
func (r *request) fd(fd int) *request {
	r.fds = append(r.fds, fd)
	return r
}

// bytes finalizes the size field.
func (r *request) bytes() []byte {
	word := order.Uint32(r.buf[4:])
	order.PutUint32(r.buf[4:], uint32(len(r.buf))<<16|word&0xffff)
	return r.buf
}

// event is one decoded compositor event.
type event struct {
	object uint32
	opcode uint16
	args   []byte
}

// splitEvents cuts b into events. A partial trailing event is left
// unconsumed.
func splitEvents(b []byte) ([]event, int, error) {
	var events []event
	off := 0
	for len(b)-off >= wireHeaderLen {
		object := order.Uint32(b[off:])
		word := order.Uint32(b[off+4:])
		opcode, size := uint16(word&0xffff), int(word>>16)
		if size < wireHeaderLen {
			return events, off, fmt.Errorf("wayland: bad event size %d", size)
		}
		if len(b)-off < size {
			break
		}
		events = append(events, event{object: object, opcode: opcode, args: b[off+wireHeaderLen : off+size]})
		off += size
	}
	return events, off, nil
}

// argReader walks the arguments of an event.
type argReader struct {
	b   []byte
	err error
}

func (a *argReader) uint() uint32 {
	if a.err != nil {
		return 0
	}
	if len(a.b) < 4 {
		a.err = errShortMessage
		return 0
	}
	v := order.Uint32(a.b)
	a.b = a.b[4:]
	return v
}

func (a *argReader) int() int32 { return int32(a.uint()) }

func (a *argReader) string() string {
	n := int(a.uint())
	if a.err != nil || n == 0 {
		return ""
	}
	padded := (n + 3) &^ 3
	if len(a.b) < padded {
		a.err = errShortMessage
		return ""
	}
	s := string(a.b[:n-1])
	a.b = a.b[padded:]
	return s
}

func (a *argReader) array() []byte {
	n := int(a.uint())
	if a.err != nil {
		return nil
	}
	padded := (n + 3) &^ 3
	if len(a.b) < padded {
		a.err = errShortMessage
		return nil
	}
	v := a.b[:n]
	a.b = a.b[padded:]
	return v
}
