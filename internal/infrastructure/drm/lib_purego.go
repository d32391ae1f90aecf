package drm

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/infrastructure/dynlib"
)

// Mirrors of the vendor structs, as laid out by meson_drm_util.h and
// meson_drm_settings.h on the targets we ship to.

type cImport struct {
	width  uint32
	height uint32
	fourcc uint32
	flags  uint32
	fd     [entity.MaxPlanes]int32
}

type cBuf struct {
	disp     uintptr
	fourcc   uint32
	width    uint32
	height   uint32
	flags    uint32
	fbID     uint32
	size     uint32
	pitches  [4]uint32
	offsets  [4]uint32
	handles  [4]uint32
	fd       [4]int32
	fenceFd  int32
	srcX     int32
	srcY     int32
	srcW     int32
	srcH     int32
	crtcX    int32
	crtcY    int32
	crtcW    int32
	crtcH    int32
	commit   uint32
	disabled uint32
}

const modeNameLen = 32

type cMode struct {
	w         uint16
	h         uint16
	vrefresh  uint32
	interlace uint8
	name      [modeNameLen]byte
	_         [3]byte
}

type mesonLib struct {
	lib *dynlib.Library

	displayInit      func() uintptr
	destroyDisplay   func(disp uintptr)
	registerDoneCb   func(disp, fn, priv uintptr)
	registerResCb    func(disp, fn, priv uintptr)
	setAllocOnlyFlag func(disp uintptr, flag int32) int32
	allocBufs        func(disp uintptr, num int32, info uintptr) int32
	freeBufs         func(disp uintptr) int32
	allocBuf         func(disp uintptr, info uintptr) uintptr
	importBuf        func(disp uintptr, info *cImport) uintptr
	freeBuf          func(buf uintptr) int32
	postBuf          func(disp, buf uintptr) int32
	asyncCommit      func(fd int32, req uintptr, flags uint32, user uintptr) int32
	waitVideoFence   func(fd int32) int32
	getModeInfo      func(fd int32, conn int32, mode *cMode) int32
	setPlaneMute     func(fd int32, plane, mute uint32) int32
}

// LoadLib opens libdrm_meson from the standard locations and binds every
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
	m := &mesonLib{lib: lib}
	err := lib.BindAll([]dynlib.Binding{
		{Name: "drm_display_init", Fn: &m.displayInit},
		{Name: "drm_destroy_display", Fn: &m.destroyDisplay},
		{Name: "drm_display_register_done_cb", Fn: &m.registerDoneCb},
		{Name: "drm_display_register_res_cb", Fn: &m.registerResCb},
		{Name: "drm_set_alloc_only_flag", Fn: &m.setAllocOnlyFlag},
		{Name: "drm_alloc_bufs", Fn: &m.allocBufs},
		{Name: "drm_free_bufs", Fn: &m.freeBufs},
		{Name: "drm_alloc_buf", Fn: &m.allocBuf},
		{Name: "drm_import_buf", Fn: &m.importBuf},
		{Name: "drm_free_buf", Fn: &m.freeBuf},
		{Name: "drm_post_buf", Fn: &m.postBuf},
		{Name: "drmModeAsyncAtomicCommit", Fn: &m.asyncCommit},
		{Name: "drm_waitvideoFence", Fn: &m.waitVideoFence},
		{Name: "meson_drm_getModeInfo", Fn: &m.getModeInfo},
		{Name: "meson_drm_setPlaneMute", Fn: &m.setPlaneMute},
	})
	if err != nil {
		_ = lib.Close()
		return nil, err
	}
	return m, nil
}

func (m *mesonLib) DisplayInit() (Handle, error) {
	h := m.displayInit()
	if h == 0 {
		return 0, errors.New("drm_display_init failed")
	}
	return Handle(h), nil
}

func (m *mesonLib) DestroyDisplay(h Handle) {
	if h != 0 {
		m.destroyDisplay(uintptr(h))
	}
}

func (m *mesonLib) ImportBuf(h Handle, info ImportInfo) (BufHandle, error) {
	if len(info.Fds) > entity.MaxPlanes {
		return 0, fmt.Errorf("drm_import_buf: %d planes", len(info.Fds))
	}
	ci := cImport{
		width:  uint32(info.Width),
		height: uint32(info.Height),
		fourcc: uint32(info.Fourcc),
		flags:  info.Flags,
	}
	for i := range ci.fd {
		ci.fd[i] = -1
	}
	for i, fd := range info.Fds {
		ci.fd[i] = int32(fd)
	}

	b := m.importBuf(uintptr(h), &ci)
	if b == 0 {
		return 0, errors.New("drm_import_buf failed")
	}
	return BufHandle(b), nil
}

func (m *mesonLib) FreeBuf(b BufHandle) error {
	if rc := m.freeBuf(uintptr(b)); rc != 0 {
		return fmt.Errorf("drm_free_buf: rc %d", rc)
	}
	return nil
}

func (m *mesonLib) SetRects(b BufHandle, src, crtc entity.Rect) {
	cb := (*cBuf)(unsafe.Pointer(uintptr(b)))
	cb.srcX, cb.srcY = int32(src.X), int32(src.Y)
	cb.srcW, cb.srcH = int32(src.W), int32(src.H)
	cb.crtcX, cb.crtcY = int32(crtc.X), int32(crtc.Y)
	cb.crtcW, cb.crtcH = int32(crtc.W), int32(crtc.H)
}

func (m *mesonLib) PostBuf(h Handle, b BufHandle) error {
	if rc := m.postBuf(uintptr(h), uintptr(b)); rc != 0 {
		return fmt.Errorf("drm_post_buf: rc %d", rc)
	}
	return nil
}

func (m *mesonLib) WaitVideoFence(fd int) error {
	if rc := m.waitVideoFence(int32(fd)); rc <= 0 {
		return fmt.Errorf("drm_waitvideoFence: rc %d", rc)
	}
	return nil
}

func (m *mesonLib) ModeInfo(drmFd int, conn Connector) (Mode, error) {
	var cm cMode
	if rc := m.getModeInfo(int32(drmFd), int32(conn), &cm); rc != 0 {
		return Mode{}, fmt.Errorf("meson_drm_getModeInfo: rc %d", rc)
	}
	name := cm.name[:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return Mode{
		Width:     int(cm.w),
		Height:    int(cm.h),
		Refresh:   int(cm.vrefresh),
		Interlace: cm.interlace != 0,
		Name:      string(name),
	}, nil
}

func (m *mesonLib) SetPlaneMute(drmFd int, plane PlaneType, mute bool) error {
	var v uint32
	if mute {
		v = 1
	}
	if rc := m.setPlaneMute(int32(drmFd), uint32(plane), v); rc != 0 {
		return fmt.Errorf("meson_drm_setPlaneMute: rc %d", rc)
	}
	return nil
}

func (m *mesonLib) Close() error {
	return m.lib.Close()
}
