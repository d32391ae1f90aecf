package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/vidrender/internal/cli"
	"github.com/bnema/vidrender/internal/cli/styles"
	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/infrastructure/idle"
	"github.com/bnema/vidrender/internal/logging"
)

var (
	playDuration  time.Duration
	playSize      string
	playRate      string
	playBackend   string
	playWatch     bool
	playImmediate bool
	playKeepAwake bool
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a generated test pattern through a back end",
	Long: `Play pushes a moving NV12 test pattern through the display pipeline of the
configured back end and prints the pipeline counters when it stops.

It runs until --duration elapses or it is interrupted.

Examples:
  vidrender play
  vidrender play --backend wayland --size 1280x720 --fps 30
  vidrender play --duration 10s --immediate
  vidrender play --watch         # apply log level changes from config.toml live`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().DurationVarP(&playDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	playCmd.Flags().StringVarP(&playSize, "size", "s", "1920x1080", "Frame size WIDTHxHEIGHT")
	playCmd.Flags().StringVar(&playRate, "fps", "60", "Frame rate, as N or N/D")
	playCmd.Flags().StringVarP(&playBackend, "backend", "b", "", "Back end to use instead of the configured one")
	playCmd.Flags().BoolVarP(&playWatch, "watch", "w", false, "Reload log level and immediate output from the config file")
	playCmd.Flags().BoolVar(&playImmediate, "immediate", false, "Post frames as soon as possible instead of at their display time")
	playCmd.Flags().BoolVar(&playKeepAwake, "inhibit-idle", true, "Keep the screen awake through the desktop portal while playing")
}

func runPlay(cmd *cobra.Command, _ []string) error {
	app := GetApp()
	if app == nil {
		return fmt.Errorf("app not initialized")
	}

	w, h, err := parseSize(playSize)
	if err != nil {
		return err
	}
	rate, err := parseRate(playRate)
	if err != nil {
		return err
	}

	cfg := *app.Config
	if playBackend != "" {
		cfg.Backend = config.BackendKind(playBackend)
	}
	if playImmediate {
		cfg.Pacing.ImmediateOutput = true
	}
	app.Config = &cfg

	ctx, stop := signal.NotifyContext(app.Ctx(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithBackend(ctx, string(cfg.Backend))

	b, err := cli.NewBackend(&cfg, *logging.FromContext(ctx))
	if err != nil {
		return err
	}

	renderer := styles.NewPlayRenderer(app.Theme)
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderer.RenderStart(string(cfg.Backend), w, h, time.Duration(int64(time.Second)*int64(rate.Denom)/int64(rate.Num))))

	opts := cli.PlayOptions{
		Duration: playDuration,
		Width:    w,
		Height:   h,
		Rate:     rate,
		Watch:    playWatch,
	}
	if playKeepAwake {
		inh := idle.New(idle.WithLogger(logging.Component(ctx, "idle")))
		defer inh.Close()
		opts.Inhibitor = inh
	}

	report, err := app.Play(ctx, b, opts)
	if report.Elapsed > 0 {
		fmt.Fprintln(out, renderer.Render(report))
	}
	return err
}

func parseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	if w, err = strconv.Atoi(ws); err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	if h, err = strconv.Atoi(hs); err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return w, h, nil
}

func parseRate(s string) (entity.Rational, error) {
	num, den := s, "1"
	if n, d, ok := strings.Cut(s, "/"); ok {
		num, den = n, d
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return entity.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	d, err := strconv.Atoi(den)
	if err != nil || d <= 0 {
		return entity.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	return entity.Rational{Num: n, Denom: d}, nil
}
