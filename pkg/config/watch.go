package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marmos91/objectloader/internal/logger"
)

// Watch loads configPath and calls onChange with the re-validated
// configuration every time the file is written. Invalid edits are logged
// and skipped. It returns the initial configuration.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change",
				logger.KeyPath, ev.Name, logger.KeyError, err)
			return
		}
		logger.Info("Configuration reloaded", logger.KeyPath, ev.Name)
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}
