// Package cmd provides Cobra CLI commands for vidrender.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/vidrender/internal/cli"
	"github.com/bnema/vidrender/internal/domain/build"
)

var (
	app       *cli.App
	buildInfo build.Info
	configDir string
	rootCmd   = &cobra.Command{
		Use:   "vidrender",
		Short: "Frame pacing and buffer lifecycle for set-top-box video planes",
		Long: `vidrender - a video render pipeline for set-top-box display back ends.

Decoded frames are paced onto a video plane against the display refresh and
handed back to the producer once the display no longer reads them.

Back ends:
  - drm          Meson DRM video plane (libdrm_meson)
  - videotunnel  Video tunnel producer endpoint (libvideotunnel)
  - westeros     Westeros video server socket
  - wayland      Any Wayland compositor with zwp_linux_dmabuf_v1

Use 'vidrender play' to push a generated test pattern through the back end
selected in the config, or 'vidrender probe' to check what this host offers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsConfig(cmd) {
				return nil
			}

			var err error
			app, err = cli.NewApp(configDir)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			app.BuildInfo = buildInfo
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if app != nil {
				_ = app.Close()
			}
		},
	}
)

// noConfig marks a command that must work even when config.toml is broken.
const noConfig = "vidrender.no-config"

func needsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return false
	}
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[noConfig]; ok || c.Name() == "completion" {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default $XDG_CONFIG_HOME/vidrender)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetApp returns the app built for the running command, or nil.
func GetApp() *cli.App {
	return app
}

// SetBuildInfo must be called before Execute.
func SetBuildInfo(info build.Info) {
	buildInfo = info
}
