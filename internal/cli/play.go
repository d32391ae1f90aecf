package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/cli/styles"
	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/display"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/logging"
	"github.com/bnema/vidrender/internal/synth"
)

const statsInterval = time.Second

// PlayOptions configures a synthetic playback run.
type PlayOptions struct {
	// Duration bounds the run; zero plays until ctx ends.
	Duration      time.Duration
	Width, Height int
	Rate          entity.Rational
	// Watch applies log level and immediate-output changes from the config
	// file while playing.
	Watch bool
	// Inhibitor, when set, keeps the screen awake while frames flow.
	Inhibitor IdleInhibitor
}

// IdleInhibitor blocks screen idle while held.
type IdleInhibitor interface {
	Inhibit(reason string) error
	Uninhibit() error
}

// DisplayOptions maps the pacing section onto coordinator options.
func DisplayOptions(p config.PacingConfig, log *zerolog.Logger) display.Options {
	return display.Options{
		Logger:           log,
		ImmediateOutput:  p.ImmediateOutput,
		KeepLastFrame:    p.KeepLastFrame,
		RecycleThreshold: p.RecycleThreshold,
		QueueCapacity:    p.QueueCapacity,
		PosterPriority:   p.PosterPriority,
		FenceTimeout:     p.FenceTimeout,
		IdleInterval:     p.IdleInterval,
		RefreshRetry:     p.RefreshRetry,
	}
}

// Play drives generated NV12 frames through b until opts.Duration elapses
// or ctx ends, then stops the display and reports what happened.
func (a *App) Play(ctx context.Context, b backend.Backend, opts PlayOptions) (styles.PlayReport, error) {
	report := styles.PlayReport{Backend: string(b.Kind())}
	log := a.log.With().Str("backend", string(b.Kind())).Logger()

	src, err := synth.New(synth.Config{
		Width:  opts.Width,
		Height: opts.Height,
		Rate:   opts.Rate,
	}, log.With().Str("component", "synth").Logger())
	if err != nil {
		return report, fmt.Errorf("create frame source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close frame source")
		}
	}()
	report.Interval = src.Interval()

	var (
		msgMu    sync.Mutex
		messages []string
	)
	src.OnMessage(func(msg entity.MsgType, detail any) {
		msgMu.Lock()
		defer msgMu.Unlock()
		if detail != nil {
			messages = append(messages, fmt.Sprintf("%s (%v)", msg, detail))
		} else {
			messages = append(messages, msg.String())
		}
	})

	coord := display.New(b, src, DisplayOptions(a.Config.Pacing, &log))
	coord.SetFrameSize(entity.FrameSize{Width: opts.Width, Height: opts.Height})
	coord.SetVideoFormat(entity.FormatNV12)
	if err := coord.SetFrameRate(opts.Rate); err != nil {
		log.Warn().Err(err).Msg("set frame rate")
	}

	if opts.Watch && a.Manager != nil {
		a.Manager.OnConfigChange(func(cfg *config.Config) {
			if level, ok := cfg.LogLevel(); ok {
				logging.SetLevel(level)
			}
			if err := coord.SetImmediatelyOutput(cfg.Pacing.ImmediateOutput); err != nil {
				log.Warn().Err(err).Msg("apply immediate output")
			}
			log.Info().Msg("configuration reloaded")
		})
		if err := a.Manager.Watch(); err != nil {
			log.Warn().Err(err).Msg("config watch unavailable")
		}
	}

	if err := coord.Start(ctx); err != nil {
		_ = coord.Close()
		return report, fmt.Errorf("start display: %w", err)
	}
	started := time.Now()

	if opts.Inhibitor != nil {
		if err := opts.Inhibitor.Inhibit("vidrender video playback"); err != nil {
			log.Warn().Err(err).Msg("idle inhibit failed")
		} else {
			defer func() { _ = opts.Inhibitor.Uninhibit() }()
		}
	}

	runCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return feed(gctx, coord, src) })
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := coord.Stats()
				log.Debug().
					Uint64("displayed", st.Displayed).
					Uint64("dropped", st.Dropped).
					Int("queued", st.Poster.Queued).
					Int("pending_release", st.Recycler.Pending).
					Msg("playback")
			}
		}
	})
	runErr := g.Wait()

	stopErr := coord.Close()
	report.Elapsed = time.Since(started)
	report.Display = coord.Stats()
	report.Source = src.Stats()
	msgMu.Lock()
	report.Messages = append([]string(nil), messages...)
	msgMu.Unlock()

	return report, errors.Join(runErr, stopErr)
}

// feed hands frames to the coordinator until ctx ends. A frame the
// coordinator refuses goes straight back to the pool.
func feed(ctx context.Context, coord *display.Coordinator, src *synth.Source) error {
	for {
		buf, at, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next frame: %w", err)
		}
		if err := coord.DisplayFrame(buf, at); err != nil {
			src.Return(buf)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("display frame %d: %w", buf.Pts, err)
		}
	}
}
