// Package videotunnel hands frames to the vendor video tunnel, which
// schedules presentation on its own and returns buffers once shown.
package videotunnel

// LibraryName is the vendor library loaded at Open.
const LibraryName = "libvideotunnel.so"

// LibraryEnv overrides the library path.
const LibraryEnv = "VIDRENDER_VIDEOTUNNEL_LIB"

// Symbols lists every function the back end binds. All of them are required.
var Symbols = []string{
	"meson_vt_open",
	"meson_vt_close",
	"meson_vt_alloc_id",
	"meson_vt_free_id",
	"meson_vt_connect",
	"meson_vt_disconnect",
	"meson_vt_queue_buffer",
	"meson_vt_dequeue_buffer",
	"meson_vt_cancel_buffer",
	"meson_vt_set_sourceCrop",
	"meson_vt_getDisplayVsyncAndPeriod",
	"meson_vt_set_mode",
	"meson_vt_send_cmd",
	"meson_vt_recv_cmd",
}

// Role is a tunnel endpoint role.
type Role int32

const (
	RoleProducer Role = iota
	RoleConsumer
)

// Cmd is a tunnel video command.
type Cmd int32

const (
	CmdSetStatus Cmd = iota
	CmdGetStatus
	CmdSetGameMode
	CmdSetSourceCrop
)

// Crop is a vt_rect: edges, not a size.
type Crop struct {
	Left, Top, Right, Bottom int32
}

// Lib is the subset of libvideotunnel the back end uses.
type Lib interface {
	Open() (int, error)
	Close(fd int) error
	Connect(fd, tunnel int, role Role) error
	Disconnect(fd, tunnel int, role Role) error
	// QueueBuffer hands bufferFd to the consumer, to be shown at presentUs.
	QueueBuffer(fd, tunnel, bufferFd, fenceFd int, presentUs int64) error
	// DequeueBuffer returns a buffer the consumer is done with and the fence
	// that signals when it stops reading it.
	DequeueBuffer(fd, tunnel int) (bufferFd, fenceFd int, err error)
	CancelBuffer(fd, tunnel int) error
	SetSourceCrop(fd, tunnel int, c Crop) error
	DisplayVsync(fd, tunnel int) (timestampUs uint64, periodUs uint32, err error)
	SendCmd(fd, tunnel int, cmd Cmd, data int) error
	Unload() error
}
