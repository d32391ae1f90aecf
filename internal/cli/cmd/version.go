package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/vidrender/internal/cli/styles"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:         "version",
	Annotations: map[string]string{noConfig: ""},
	Aliases:     []string{"about"},
	Short:       "Show version and build information",
	Long: `Display the version, commit, build date and the back ends compiled into
this binary. --short prints a single line for scripts.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version and commit")
}

// runVersion works without a loaded config so a broken config.toml never
// hides which build is installed.
func runVersion(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if versionShort {
		_, err := fmt.Fprintln(out, buildInfo.String())
		return err
	}
	_, err := fmt.Fprintln(out, styles.NewAboutRenderer(styles.NewTheme()).Render(buildInfo))
	return err
}
