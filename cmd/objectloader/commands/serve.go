package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/config"
	"github.com/marmos91/objectloader/pkg/server"
	"github.com/marmos91/objectloader/pkg/store/factory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored objects over HTTP",
	Long: `Serve exposes the configured store to remote loaders:

  GET  /objects/{id}    one object
  POST /objects/batch   NDJSON lines for a list of ids
  POST /objects         NDJSON upload into the store
  GET  /health          store health
  GET  /metrics         Prometheus metrics (when enabled)

When server.jwt_secret is set, /objects requires a bearer token issued
with "objectloader token". Changes to logging.level in the config file are
applied without a restart.

Examples:
  # Serve a badger store on the default address
  OBJECTLOADER_STORE_TYPE=badger OBJECTLOADER_STORE_BADGER_PATH=/var/lib/objects objectloader serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	st, err := factory.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if st == nil {
		return errors.New("serve needs a store: set store.type")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Store close error", logger.KeyError, err)
		}
	}()

	srv, err := server.New(cfg.Server, st)
	if err != nil {
		return err
	}

	logger.Info("Serving objects",
		logger.KeyAddress, cfg.Server.Address,
		logger.KeyStoreType, st.Type(),
		"auth", cfg.Server.JWTSecret != "")

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// loadServeConfig watches the config file, when there is one, so log level
// edits take effect while serving.
func loadServeConfig() (*config.Config, error) {
	path := GetConfigFile()
	if path == "" && !config.DefaultConfigExists() {
		return loadConfig()
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	cfg, err := config.Watch(path, func(next *config.Config) {
		if logLevel != "" {
			return
		}
		logger.SetLevel(next.Logging.Level)
		logger.Info("Log level updated", "level", next.Logging.Level)
	})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
