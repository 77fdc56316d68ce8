package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/internal/cli/output"
	"github.com/marmos91/objectloader/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective configuration: the file, environment overrides
and defaults merged together.

By default outputs YAML. Use --output json for JSON.

Examples:
  objectloader config show
  objectloader config show --output json`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}
	// A configuration has no table form.
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(cfg)
}
