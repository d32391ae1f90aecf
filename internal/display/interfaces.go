package display

import "github.com/bnema/vidrender/internal/domain/entity"

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_display.go -package=mock_display

// Callbacks is how the coordinator reports buffer lifecycle events to the
// media pipeline that owns the buffers. Every buffer accepted by
// DisplayFrame gets exactly one HandleBufferRelease, preceded by
// HandleFrameDropped when it never reached the display.
type Callbacks interface {
	HandleFrameDropped(buf *entity.RenderBuffer)
	HandleFrameDisplayed(buf *entity.RenderBuffer)
	HandleBufferRelease(buf *entity.RenderBuffer)
	HandleMsgNotify(msg entity.MsgType, detail any)
}
