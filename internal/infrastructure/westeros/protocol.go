// Package westeros drives the Westeros video server over its unix socket.
//
// Every message is framed as 'V' 'S' <len> <opcode> <payload>, where len
// counts the opcode and the payload. Integers are big-endian.
package westeros

import (
	"encoding/binary"

	"github.com/bnema/vidrender/internal/domain/entity"
)

const (
	headerLen = 4
	// MaxPlanes is the number of plane descriptors a frame message carries.
	MaxPlanes = 3
)

// Client to server opcodes.
const (
	OpPip          byte = 'N'
	OpResource     byte = 'V'
	OpFlush        byte = 'S'
	OpPause        byte = 'P'
	OpHide         byte = 'H'
	OpSession      byte = 'I'
	OpFrameAdvance byte = 'A'
	OpRect         byte = 'W'
	OpRate         byte = 'R'
	OpCrop         byte = 'C'
	OpKeepLast     byte = 'K'
	OpFrame        byte = 'F'
)

// Server to client opcodes.
const (
	EvRefreshRate byte = 'R'
	EvRelease     byte = 'B'
	EvStatus      byte = 'S'
	EvUnderflow   byte = 'U'
	EvZoom        byte = 'Z'
	EvDebugLevel  byte = 'D'
)

// Session and sync values understood by the server.
const (
	SyncImmediate     = 255
	InvalidSessionID  = 16
	SessionVideoMono  = 64
	SyncModeVideoMono = 5
)

func message(op byte, payloadLen int) []byte {
	m := make([]byte, headerLen, headerLen+payloadLen)
	m[0], m[1], m[2], m[3] = 'V', 'S', byte(payloadLen+1), op
	return m
}

func flag(on bool) byte {
	if on {
		return 1
	}
	return 0
}

func boolMessage(op byte, on bool) []byte {
	return append(message(op, 1), flag(on))
}

func rectMessage(op byte, r entity.Rect) []byte {
	m := message(op, 16)
	m = binary.BigEndian.AppendUint32(m, uint32(int32(r.X)))
	m = binary.BigEndian.AppendUint32(m, uint32(int32(r.Y)))
	m = binary.BigEndian.AppendUint32(m, uint32(int32(r.W)))
	return binary.BigEndian.AppendUint32(m, uint32(int32(r.H)))
}

// EncodePip selects the main or the pip video layer.
func EncodePip(pip bool) []byte { return boolMessage(OpPip, pip) }

// EncodeResource selects the video plane resource, 0 for the primary plane.
func EncodeResource(id uint32) []byte {
	return binary.BigEndian.AppendUint32(message(OpResource, 4), id)
}

// EncodeFlush drops queued frames; keep leaves the last one on screen.
func EncodeFlush(keep bool) []byte { return boolMessage(OpFlush, keep) }

func EncodePause(pause bool) []byte { return boolMessage(OpPause, pause) }

func EncodeHide(hide bool) []byte { return boolMessage(OpHide, hide) }

func EncodeKeepLastFrame(keep bool) []byte { return boolMessage(OpKeepLast, keep) }

// EncodeSession tells the server which clock paces the frames.
func EncodeSession(syncType byte, session uint32) []byte {
	m := append(message(OpSession, 5), syncType)
	return binary.BigEndian.AppendUint32(m, session)
}

// EncodeFrameAdvance steps one frame while paused.
func EncodeFrameAdvance() []byte { return message(OpFrameAdvance, 0) }

// EncodeRect positions the video window.
func EncodeRect(r entity.Rect) []byte { return rectMessage(OpRect, r) }

// EncodeCrop crops the source frame.
func EncodeCrop(r entity.Rect) []byte { return rectMessage(OpCrop, r) }

func EncodeRate(num, denom uint32) []byte {
	m := message(OpRate, 8)
	m = binary.BigEndian.AppendUint32(m, num)
	return binary.BigEndian.AppendUint32(m, denom)
}

// Frame is the body of a frame message. The plane descriptors travel next
// to it as SCM_RIGHTS.
type Frame struct {
	Width, Height uint32
	Fourcc        entity.Fourcc
	Video         entity.Rect
	Offsets       [MaxPlanes]uint32
	Strides       [MaxPlanes]uint32
	BufferID      uint32
	// FrameTime is the presentation time in microseconds.
	FrameTime int64
}

// EncodeFrame serializes f into its 68 byte message.
func EncodeFrame(f Frame) []byte {
	m := message(OpFrame, 64)
	for _, v := range []uint32{
		f.Width, f.Height, uint32(f.Fourcc),
		uint32(int32(f.Video.X)), uint32(int32(f.Video.Y)), uint32(int32(f.Video.W)), uint32(int32(f.Video.H)),
		f.Offsets[0], f.Strides[0], f.Offsets[1], f.Strides[1], f.Offsets[2], f.Strides[2],
		f.BufferID,
	} {
		m = binary.BigEndian.AppendUint32(m, v)
	}
	return binary.BigEndian.AppendUint64(m, uint64(f.FrameTime))
}

// PlaneLayout fills the offsets and strides of a frame with w×h luma. A
// missing second plane follows the first one in the same buffer; a missing
// third plane follows the second at a quarter of the luma size.
func PlaneLayout(planes []entity.Plane, width, height int) (offsets, strides [MaxPlanes]uint32) {
	for i := range strides {
		strides[i] = uint32(width)
	}
	if len(planes) == 0 {
		return offsets, strides
	}

	strides[0] = uint32(planes[0].Stride)
	offsets[0] = uint32(planes[0].Offset)

	if len(planes) == 1 {
		offsets[1] = strides[0] * uint32(height)
		strides[1] = strides[0]
		offsets[2], strides[2] = 0, 0
		return offsets, strides
	}

	offsets[1] = uint32(planes[1].Offset)
	strides[1] = uint32(planes[1].Stride)
	if len(planes) > 2 {
		offsets[2] = uint32(planes[2].Offset)
		strides[2] = uint32(planes[2].Stride)
	} else {
		offsets[2] = offsets[1] + uint32(width*height)/2
		strides[2] = strides[0]
	}
	return offsets, strides
}

// Event is one decoded server message. Only the fields of its opcode are set.
type Event struct {
	Op         byte
	Rate       uint32
	BufferID   uint32
	FrameTime  int64
	Dropped    uint32
	Zoom       entity.ZoomInfo
	DebugLevel uint32
}

// Decode parses every complete message in b and returns them with the
// number of bytes consumed. A partial trailing message is left unconsumed;
// bytes that do not start with a header are consumed and discarded.
// Messages with an unknown opcode or a short payload are skipped.
func Decode(b []byte) ([]Event, int) {
	var events []Event
	off := 0
	for len(b)-off >= headerLen {
		m := b[off:]
		if m[0] != 'V' || m[1] != 'S' {
			return events, len(b)
		}
		mlen := int(m[2])
		if len(m) < mlen+3 {
			break
		}
		if ev, ok := decodeOne(m[3 : mlen+3]); ok {
			events = append(events, ev)
		}
		off += mlen + 3
	}
	return events, off
}

// decodeOne takes the opcode followed by its payload.
func decodeOne(body []byte) (Event, bool) {
	if len(body) == 0 {
		return Event{}, false
	}
	ev := Event{Op: body[0]}
	p := body[1:]
	u32 := func(i int) uint32 { return binary.BigEndian.Uint32(p[i:]) }
	s64 := func(i int) int64 { return int64(binary.BigEndian.Uint64(p[i:])) }

	switch ev.Op {
	case EvRefreshRate:
		if len(p) < 4 {
			return ev, false
		}
		ev.Rate = u32(0)
	case EvRelease:
		if len(p) < 4 {
			return ev, false
		}
		ev.BufferID = u32(0)
	case EvStatus:
		if len(p) < 12 {
			return ev, false
		}
		ev.FrameTime = s64(0)
		ev.Dropped = u32(8)
	case EvUnderflow:
		if len(p) < 8 {
			return ev, false
		}
		ev.FrameTime = s64(0)
	case EvZoom:
		if len(p) < 12 {
			return ev, false
		}
		ev.Zoom = entity.ZoomInfo{
			GlobalZoomActive: u32(0) != 0,
			Allow4K:          u32(4) != 0,
			Mode:             int(int32(u32(8))),
		}
	case EvDebugLevel:
		if len(p) < 4 {
			return ev, false
		}
		ev.DebugLevel = u32(0)
		if ev.DebugLevel > 7 {
			return ev, false
		}
	default:
		return ev, false
	}
	return ev, true
}
