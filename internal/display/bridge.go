package display

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/pipeline"
)

// bridge is the Coordinator seen from the pipeline stages and the back end.
// It keeps pipeline.Display, pipeline.Releaser and backend.Events off the
// Coordinator's public method set.
type bridge Coordinator

var (
	_ pipeline.Display    = (*bridge)(nil)
	_ pipeline.Releaser   = (*bridge)(nil)
	_ backend.Events      = (*bridge)(nil)
	_ backend.LevelSetter = (*bridge)(nil)
)

func (b *bridge) WaitRefresh(ctx context.Context) (time.Duration, error) {
	return b.backend.WaitRefresh(ctx)
}

func (b *bridge) RefreshInterval() time.Duration {
	return b.backend.RefreshInterval()
}

func (b *bridge) PostFrame(ctx context.Context, f *pipeline.Frame) error {
	desc, ok := f.Desc.(*backend.Buffer)
	if !ok {
		return fmt.Errorf("post %s: %w", f, backend.ErrUnknownBuffer)
	}
	return b.backend.Post(ctx, desc)
}

func (b *bridge) FrameDisplayed(f *pipeline.Frame) {
	b.displayed.Add(1)
	b.cb.HandleFrameDisplayed(f.Buffer)
}

func (b *bridge) FrameDropped(f *pipeline.Frame) {
	b.dropped.Add(1)
	b.cb.HandleFrameDropped(f.Buffer)
	b.FrameReleased(f)
}

func (b *bridge) WaitFence(ctx context.Context, f *pipeline.Frame) error {
	desc, ok := f.Desc.(*backend.Buffer)
	if !ok {
		return nil
	}
	return b.backend.WaitFence(ctx, desc)
}

// FrameReleased frees the back end descriptor, closing the duplicated plane
// descriptors, then hands the buffer back to its owner.
func (b *bridge) FrameReleased(f *pipeline.Frame) {
	if desc, ok := f.Desc.(*backend.Buffer); ok {
		if err := b.backend.Free(desc); err != nil {
			b.log.Warn().Err(err).Stringer("frame", f).Msg("free buffer failed")
		}
		f.Desc = nil
	}
	b.released.Add(1)
	b.cb.HandleBufferRelease(f.Buffer)
}

func (b *bridge) Notify(msg entity.MsgType, detail any) {
	b.log.Debug().Stringer("msg", msg).Interface("detail", detail).Msg("backend message")
	b.cb.HandleMsgNotify(msg, detail)
}

func (b *bridge) SetLogLevel(level zerolog.Level) {
	(*Coordinator)(b).SetLogLevel(level)
}
