// Package drm posts frames straight to a video plane through the vendor
// libdrm_meson library and paces them on the card's vblank.
package drm

import (
	"strings"

	"github.com/bnema/vidrender/internal/domain/entity"
)

// LibraryName is the vendor library loaded at Open.
const LibraryName = "libdrm_meson.so"

// LibraryEnv overrides the library path.
const LibraryEnv = "VIDRENDER_DRM_LIB"

// Symbols lists every function the back end binds. All of them are required.
var Symbols = []string{
	"drm_display_init",
	"drm_destroy_display",
	"drm_display_register_done_cb",
	"drm_display_register_res_cb",
	"drm_set_alloc_only_flag",
	"drm_alloc_bufs",
	"drm_free_bufs",
	"drm_alloc_buf",
	"drm_import_buf",
	"drm_free_buf",
	"drm_post_buf",
	"drmModeAsyncAtomicCommit",
	"drm_waitvideoFence",
	"meson_drm_getModeInfo",
	"meson_drm_setPlaneMute",
}

// Handle is a vendor struct drm_display pointer.
type Handle uintptr

// BufHandle is a vendor struct drm_buf pointer.
type BufHandle uintptr

// Plane usage flags passed on import.
const (
	FlagVD1 uint32 = 1 << 18
	FlagVD2 uint32 = 1 << 19
)

// PlaneType selects the plane meson_drm_setPlaneMute acts on.
type PlaneType uint32

const (
	PlaneOSD PlaneType = iota
	PlaneVideo
)

// Connector is a MESON_CONNECTOR_TYPE value.
type Connector int32

const (
	ConnectorHDMIA Connector = iota
	ConnectorHDMIB
	ConnectorLVDS
	ConnectorCVBS
	ConnectorDummy
)

// ParseConnector maps a config name to a Connector. Unknown names select HDMI-A.
func ParseConnector(name string) Connector {
	switch strings.ToLower(name) {
	case "hdmib", "hdmi-b":
		return ConnectorHDMIB
	case "lvds":
		return ConnectorLVDS
	case "cvbs":
		return ConnectorCVBS
	case "dummy":
		return ConnectorDummy
	default:
		return ConnectorHDMIA
	}
}

// Mode is the current display mode of a connector.
type Mode struct {
	Width     int
	Height    int
	Refresh   int // Hz
	Interlace bool
	Name      string
}

// ImportInfo describes a dma-buf import.
type ImportInfo struct {
	Width  int
	Height int
	Fourcc entity.Fourcc
	Flags  uint32
	Fds    []int
}

// Lib is the subset of libdrm_meson the back end uses.
type Lib interface {
	DisplayInit() (Handle, error)
	DestroyDisplay(h Handle)
	ImportBuf(h Handle, info ImportInfo) (BufHandle, error)
	// FreeBuf releases the vendor buffer and closes the descriptors it was
	// imported with.
	FreeBuf(b BufHandle) error
	// SetRects writes the source and on-screen rectangles into the buffer.
	SetRects(b BufHandle, src, crtc entity.Rect)
	PostBuf(h Handle, b BufHandle) error
	// WaitVideoFence blocks until the display stops reading the dma-buf fd.
	WaitVideoFence(fd int) error
	ModeInfo(drmFd int, conn Connector) (Mode, error)
	SetPlaneMute(drmFd int, plane PlaneType, mute bool) error
	Close() error
}

// Formats maps pipeline formats to plane formats; anything else is posted
// as YUYV.
var Formats = map[entity.PixelFormat]entity.Fourcc{
	entity.FormatNV12: entity.FourccNV12,
	entity.FormatNV21: entity.FourccNV21,
}
