package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/vidrender/internal/cli"
	"github.com/bnema/vidrender/internal/cli/styles"
	"github.com/bnema/vidrender/internal/config"
)

var probeAll bool

var probeCmd = &cobra.Command{
	Use:   "probe [backend...]",
	Short: "Check vendor libraries and compositor sockets",
	Long: `Probe loads the vendor library of each library-backed back end and reports
any symbol it lacks, and looks for the sockets of the compositor back ends.

Without arguments only the configured back end is probed.

Examples:
  vidrender probe
  vidrender probe drm videotunnel
  vidrender probe --all`,
	ValidArgs: []string{
		string(config.BackendDRM), string(config.BackendVideoTunnel),
		string(config.BackendWesteros), string(config.BackendWayland),
	},
	Args: cobra.OnlyValidArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVarP(&probeAll, "all", "a", false, "Probe every back end")
}

func runProbe(cmd *cobra.Command, args []string) error {
	app := GetApp()
	if app == nil {
		return fmt.Errorf("app not initialized")
	}

	var kinds []config.BackendKind
	switch {
	case probeAll:
	case len(args) > 0:
		for _, a := range args {
			kinds = append(kinds, config.BackendKind(a))
		}
	default:
		kinds = []config.BackendKind{app.Config.Backend}
	}

	report := cli.NewProber().Probe(app.Config, kinds...)
	fmt.Fprintln(cmd.OutOrStdout(), styles.NewProbeRenderer(app.Theme).Render(report))
	if !report.OK() {
		return fmt.Errorf("probe found problems")
	}
	return nil
}
