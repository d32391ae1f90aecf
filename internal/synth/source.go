// Package synth produces NV12 test frames in memfd buffers so the pipeline
// can be driven without a decoder.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/clock"
	"github.com/bnema/vidrender/internal/domain/entity"
)

const (
	defaultPoolSize = 4
	// lead is how far ahead of now the first frame is scheduled.
	defaultLead = 50 * time.Millisecond

	barWidth = 64
)

var ErrClosed = errors.New("synth: source closed")

// Config describes the generated stream.
type Config struct {
	Width, Height int
	Rate          entity.Rational
	// PoolSize is how many buffers circulate; a frame is only reused after
	// its release callback.
	PoolSize int
	Lead     time.Duration
}

// Stats counts the callbacks received from the coordinator.
type Stats struct {
	Produced  uint64
	Displayed uint64
	Dropped   uint64
	Released  uint64
}

type frame struct {
	buf  *entity.RenderBuffer
	mem  []byte
	busy bool
}

// Source is a pool of memfd-backed NV12 buffers. It implements the
// coordinator callbacks so released buffers return to the pool.
type Source struct {
	cfg      Config
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Duration

	mu     sync.Mutex
	frames map[int]*frame
	free   chan *frame
	closed bool
	seq    int64
	start  time.Duration

	produced, displayed, dropped, released atomic.Uint64

	onMsg func(entity.MsgType, any)
}

// New allocates the buffer pool.
func New(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, fmt.Errorf("invalid NV12 size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Rate.FPS() == 0 {
		return nil, fmt.Errorf("invalid frame rate %d/%d", cfg.Rate.Num, cfg.Rate.Denom)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.Lead <= 0 {
		cfg.Lead = defaultLead
	}

	s := &Source{
		cfg:      cfg,
		log:      log,
		interval: time.Duration(int64(time.Second) * int64(cfg.Rate.Denom) / int64(cfg.Rate.Num)),
		now:      clock.Now,
		frames:   make(map[int]*frame, cfg.PoolSize),
		free:     make(chan *frame, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		f, err := allocFrame(i+1, cfg.Width, cfg.Height)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.frames[f.buf.ID] = f
		s.free <- f
	}
	return s, nil
}

func allocFrame(id, w, h int) (*frame, error) {
	size := w * h * 3 / 2
	fd, err := unix.MemfdCreate(fmt.Sprintf("vidrender-synth-%d", id), unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate memfd: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap memfd: %w", err)
	}
	return &frame{
		buf: &entity.RenderBuffer{
			ID:          id,
			Width:       w,
			Height:      h,
			PixelFormat: entity.FormatNV12,
			Planes: []entity.Plane{
				{Fd: fd, Stride: w, Offset: 0, Size: w * h},
				{Fd: fd, Stride: w, Offset: w * h, Size: w * h / 2},
			},
		},
		mem: mem,
	}, nil
}

// Interval is the spacing of display times.
func (s *Source) Interval() time.Duration { return s.interval }

// OnMessage sets a handler for coordinator messages.
func (s *Source) OnMessage(fn func(entity.MsgType, any)) {
	s.mu.Lock()
	s.onMsg = fn
	s.mu.Unlock()
}

// Next waits for a free buffer, paints the next frame into it and returns
// it with its display time.
func (s *Source) Next(ctx context.Context) (*entity.RenderBuffer, time.Duration, error) {
	var f *frame
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case f = <-s.free:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, ErrClosed
	}
	if s.seq == 0 {
		s.start = s.now() + s.cfg.Lead
	}
	n := s.seq
	s.seq++
	f.busy = true

	paint(f.mem, s.cfg.Width, s.cfg.Height, n)
	f.buf.Pts = n * int64(s.interval)
	s.produced.Add(1)
	return f.buf, s.start + time.Duration(n)*s.interval, nil
}

// Return puts a buffer the coordinator refused back into the pool.
func (s *Source) Return(buf *entity.RenderBuffer) { s.release(buf) }

func (s *Source) release(buf *entity.RenderBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[buf.ID]
	if !ok || !f.busy || s.closed {
		return
	}
	f.busy = false
	s.free <- f
}

func (s *Source) HandleFrameDropped(*entity.RenderBuffer) { s.dropped.Add(1) }

func (s *Source) HandleFrameDisplayed(*entity.RenderBuffer) { s.displayed.Add(1) }

func (s *Source) HandleBufferRelease(buf *entity.RenderBuffer) {
	s.released.Add(1)
	s.release(buf)
}

func (s *Source) HandleMsgNotify(msg entity.MsgType, detail any) {
	s.log.Debug().Stringer("msg", msg).Interface("detail", detail).Msg("display message")
	s.mu.Lock()
	fn := s.onMsg
	s.mu.Unlock()
	if fn != nil {
		fn(msg, detail)
	}
}

func (s *Source) Stats() Stats {
	return Stats{
		Produced:  s.produced.Load(),
		Displayed: s.displayed.Load(),
		Dropped:   s.dropped.Load(),
		Released:  s.released.Load(),
	}
}

// Close unmaps and closes every buffer. Buffers still held by the
// coordinator must have been released first.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, f := range s.frames {
		if f.mem != nil {
			errs = append(errs, unix.Munmap(f.mem))
		}
		errs = append(errs, unix.Close(f.buf.Planes[0].Fd))
	}
	return errors.Join(errs...)
}

// paint draws a vertical bar that moves one step per frame on a grey
// ramp, with neutral chroma.
func paint(mem []byte, w, h int, n int64) {
	luma := mem[:w*h]
	x0 := int(n*8) % w
	for y := 0; y < h; y++ {
		row := luma[y*w : (y+1)*w]
		base := byte(16 + (y*200)/h)
		for x := range row {
			row[x] = base
		}
		for x := x0; x < x0+barWidth && x < w; x++ {
			row[x] = 235
		}
	}
	chroma := mem[w*h:]
	for i := range chroma {
		chroma[i] = 128
	}
}
