package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/pkg/config"
	"github.com/marmos91/objectloader/pkg/store/factory"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the objectloader configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  objectloader config validate

  # Validate specific config file
  objectloader config validate --config /etc/objectloader/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Store.Type == factory.TypeNone {
		warnings = append(warnings, "No store configured - downloaded objects are not persisted")
	}
	if cfg.Store.Type == factory.TypeBadger && cfg.Queue.Segment != "" {
		warnings = append(warnings, "Badger allows one process at a time - the loader and an external worker cannot share it")
	}
	if cfg.Server.JWTSecret == "" {
		warnings = append(warnings, "server.jwt_secret not set - the object server accepts unauthenticated requests")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Transport:       %s\n", cfg.Transport.Type)
	_, _ = fmt.Fprintf(out, "  Store type:      %s\n", cfg.Store.Type)
	_, _ = fmt.Fprintf(out, "  Cache size:      %g MB\n", cfg.Cache.MaxSizeInMb)
	_, _ = fmt.Fprintf(out, "  Queue capacity:  %s\n", cfg.Queue.Capacity)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
