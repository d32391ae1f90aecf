package videotunnel

import (
	"fmt"

	"github.com/bnema/vidrender/internal/infrastructure/dynlib"
)

type vtLib struct {
	lib *dynlib.Library

	open          func() int32
	close         func(fd int32) int32
	allocID       func(fd int32, id *int32) int32
	freeID        func(fd, id int32) int32
	connect       func(fd, id, role int32) int32
	disconnect    func(fd, id, role int32) int32
	queueBuffer   func(fd, id, bufferFd, fenceFd int32, present int64) int32
	dequeueBuffer func(fd, id int32, bufferFd, fenceFd *int32) int32
	cancelBuffer  func(fd, id int32) int32
	// vt_rect is passed by value; on the 64-bit ABIs it travels as two
	// integer registers, left|top then right|bottom.
	setSourceCrop func(fd, id int32, lo, hi uint64) int32
	displayVsync  func(fd, id int32, ts *uint64, period *uint32) int32
	setMode       func(fd, block int32) int32
	sendCmd       func(fd, id, cmd, data int32) int32
	recvCmd       func(fd, id int32, cmd *int32, data uintptr) int32
}

// LoadLib opens libvideotunnel from the standard locations and binds every
// symbol in Symbols.
func LoadLib() (Lib, error) {
	lib, err := dynlib.Open(LibraryName, LibraryEnv)
	if err != nil {
		return nil, err
	}
	return bind(lib)
}

// LoadLibPath is LoadLib for a library at an explicit path.
func LoadLibPath(path string) (Lib, error) {
	lib, err := dynlib.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return bind(lib)
}

func bind(lib *dynlib.Library) (Lib, error) {
	v := &vtLib{lib: lib}
	err := lib.BindAll([]dynlib.Binding{
		{Name: "meson_vt_open", Fn: &v.open},
		{Name: "meson_vt_close", Fn: &v.close},
		{Name: "meson_vt_alloc_id", Fn: &v.allocID},
		{Name: "meson_vt_free_id", Fn: &v.freeID},
		{Name: "meson_vt_connect", Fn: &v.connect},
		{Name: "meson_vt_disconnect", Fn: &v.disconnect},
		{Name: "meson_vt_queue_buffer", Fn: &v.queueBuffer},
		{Name: "meson_vt_dequeue_buffer", Fn: &v.dequeueBuffer},
		{Name: "meson_vt_cancel_buffer", Fn: &v.cancelBuffer},
		{Name: "meson_vt_set_sourceCrop", Fn: &v.setSourceCrop},
		{Name: "meson_vt_getDisplayVsyncAndPeriod", Fn: &v.displayVsync},
		{Name: "meson_vt_set_mode", Fn: &v.setMode},
		{Name: "meson_vt_send_cmd", Fn: &v.sendCmd},
		{Name: "meson_vt_recv_cmd", Fn: &v.recvCmd},
	})
	if err != nil {
		_ = lib.Close()
		return nil, err
	}
	return v, nil
}

func rc(name string, r int32) error {
	if r < 0 {
		return fmt.Errorf("%s: rc %d", name, r)
	}
	return nil
}

func (v *vtLib) Open() (int, error) {
	fd := v.open()
	if fd <= 0 {
		return -1, fmt.Errorf("meson_vt_open: rc %d", fd)
	}
	return int(fd), nil
}

func (v *vtLib) Close(fd int) error {
	return rc("meson_vt_close", v.close(int32(fd)))
}

func (v *vtLib) Connect(fd, tunnel int, role Role) error {
	return rc("meson_vt_connect", v.connect(int32(fd), int32(tunnel), int32(role)))
}

func (v *vtLib) Disconnect(fd, tunnel int, role Role) error {
	return rc("meson_vt_disconnect", v.disconnect(int32(fd), int32(tunnel), int32(role)))
}

func (v *vtLib) QueueBuffer(fd, tunnel, bufferFd, fenceFd int, presentUs int64) error {
	return rc("meson_vt_queue_buffer",
		v.queueBuffer(int32(fd), int32(tunnel), int32(bufferFd), int32(fenceFd), presentUs))
}

func (v *vtLib) DequeueBuffer(fd, tunnel int) (int, int, error) {
	bufferFd, fenceFd := int32(-1), int32(-1)
	if r := v.dequeueBuffer(int32(fd), int32(tunnel), &bufferFd, &fenceFd); r != 0 {
		return -1, -1, fmt.Errorf("meson_vt_dequeue_buffer: rc %d", r)
	}
	return int(bufferFd), int(fenceFd), nil
}

func (v *vtLib) CancelBuffer(fd, tunnel int) error {
	return rc("meson_vt_cancel_buffer", v.cancelBuffer(int32(fd), int32(tunnel)))
}

func (v *vtLib) SetSourceCrop(fd, tunnel int, c Crop) error {
	lo := uint64(uint32(c.Left)) | uint64(uint32(c.Top))<<32
	hi := uint64(uint32(c.Right)) | uint64(uint32(c.Bottom))<<32
	return rc("meson_vt_set_sourceCrop", v.setSourceCrop(int32(fd), int32(tunnel), lo, hi))
}

func (v *vtLib) DisplayVsync(fd, tunnel int) (uint64, uint32, error) {
	var ts uint64
	var period uint32
	if err := rc("meson_vt_getDisplayVsyncAndPeriod", v.displayVsync(int32(fd), int32(tunnel), &ts, &period)); err != nil {
		return 0, 0, err
	}
	return ts, period, nil
}

func (v *vtLib) SendCmd(fd, tunnel int, cmd Cmd, data int) error {
	return rc("meson_vt_send_cmd", v.sendCmd(int32(fd), int32(tunnel), int32(cmd), int32(data)))
}

func (v *vtLib) Unload() error {
	return v.lib.Close()
}
