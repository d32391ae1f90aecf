package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/vidrender/internal/cli/styles"
	"github.com/bnema/vidrender/internal/config"
)

var schemaOutputDir string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long:  `Show the effective configuration or generate its JSON schema.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the config file path and effective settings",
	Long: `Display the config file path and the settings in effect after the file,
the VIDRENDER_* environment variables and the defaults are merged.`,
	RunE: runConfigShow,
}

var configSchemaCmd = &cobra.Command{
	Use:         "schema",
	Annotations: map[string]string{noConfig: ""},
	Short:       "Print or write the JSON schema of the config file",
	Long: `Print the JSON schema of config.toml, or write it as config.schema.json
into --output for editor completion.`,
	RunE: runConfigSchema,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
	configSchemaCmd.Flags().StringVarP(&schemaOutputDir, "output", "o", "", "Directory to write config.schema.json into")
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	app := GetApp()
	if app == nil {
		return fmt.Errorf("app not initialized")
	}

	renderer := styles.NewConfigRenderer(app.Theme)
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderer.RenderConfigInfo(app.Manager.ConfigFile()))
	fmt.Fprint(out, renderer.RenderSettings(app.Config))
	return nil
}

func runConfigSchema(cmd *cobra.Command, _ []string) error {
	if schemaOutputDir == "" {
		data, err := config.MarshalSchema()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}

	renderer := styles.NewConfigRenderer(styles.NewTheme())
	path, err := config.GenerateSchemaFile(schemaOutputDir)
	if err != nil {
		fmt.Fprint(os.Stderr, renderer.RenderError(err))
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderer.RenderSchemaWritten(path))
	return nil
}
