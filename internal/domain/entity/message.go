package entity

// MsgType identifies an asynchronous notification sent to the plugin owner.
type MsgType int

const (
	// MsgFirstFrame carries the pts (int64) of the first frame on screen.
	MsgFirstFrame MsgType = iota + 1
	// MsgUnderflow carries the frame time (int64) the display reported with
	// the gap, or nil when it reports none.
	MsgUnderflow
	// MsgZoomMode carries a ZoomInfo.
	MsgZoomMode
	// MsgDropped carries the compositor-reported drop count (uint32).
	MsgDropped
)

func (m MsgType) String() string {
	switch m {
	case MsgFirstFrame:
		return "first-frame"
	case MsgUnderflow:
		return "underflow"
	case MsgZoomMode:
		return "zoom-mode"
	case MsgDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// ZoomInfo is the compositor zoom state reported with MsgZoomMode.
type ZoomInfo struct {
	GlobalZoomActive bool
	Allow4K          bool
	Mode             int
}
