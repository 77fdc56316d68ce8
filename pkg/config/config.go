// Package config loads objectloader configuration from a YAML file,
// OBJECTLOADER_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/objectloader/internal/bytesize"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/batching"
	"github.com/marmos91/objectloader/pkg/cache"
	"github.com/marmos91/objectloader/pkg/loader"
	"github.com/marmos91/objectloader/pkg/server"
	"github.com/marmos91/objectloader/pkg/store/factory"
	"github.com/marmos91/objectloader/pkg/transport/remote"
	"github.com/marmos91/objectloader/pkg/transport/s3"
	"github.com/marmos91/objectloader/pkg/writebehind"
)

// EnvPrefix prefixes environment overrides, e.g. OBJECTLOADER_LOGGING_LEVEL.
const EnvPrefix = "OBJECTLOADER"

// Config is the complete objectloader configuration.
//
// Sources in order of precedence:
//  1. CLI flags
//  2. Environment variables (OBJECTLOADER_*)
//  3. Configuration file
//  4. Defaults
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds graceful shutdown of servers and queues.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Cache bounds the resolved-object cache.
	Cache cache.Config `mapstructure:"cache" yaml:"cache"`

	// Queue describes the write-behind ring buffer.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Batching paces write-behind flushes to the store.
	Batching batching.Config `mapstructure:"batching" yaml:"batching"`

	Traverser TraverserConfig          `mapstructure:"traverser" yaml:"traverser"`
	Loader    loader.Config            `mapstructure:"loader" yaml:"loader"`
	Transport TransportConfig          `mapstructure:"transport" yaml:"transport"`
	Store     factory.Config           `mapstructure:"store" yaml:"store"`
	Worker    writebehind.WorkerConfig `mapstructure:"worker" yaml:"worker"`
	Server    server.Config            `mapstructure:"server" yaml:"server"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR, case-insensitive.
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// TelemetryConfig controls tracing and profiling.
type TelemetryConfig struct {
	telemetry.Config `mapstructure:",squash" yaml:",inline"`

	Profiling telemetry.ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// MetricsConfig controls Prometheus collection. When Enabled is false no
// metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port serves /metrics for commands without their own HTTP server.
	// Default: 9090
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// QueueConfig describes the write-behind ring buffer.
type QueueConfig struct {
	// Capacity is the ring buffer data size, rounded up to a power of two.
	// Default: 64Mi
	Capacity bytesize.ByteSize `mapstructure:"capacity" yaml:"capacity"`

	// Segment is the file backing a shared segment. Empty keeps the queue
	// in process.
	Segment string `mapstructure:"segment" yaml:"segment,omitempty"`

	// EnqueueTimeout bounds how long a write waits for space.
	// Default: 1s
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout" yaml:"enqueue_timeout"`
}

// TraverserConfig tunes graph reconstruction.
type TraverserConfig struct {
	// ExcludeProps are stripped from every object before it is walked.
	ExcludeProps []string `mapstructure:"exclude_props" yaml:"exclude_props,omitempty"`

	// MaxFanOut bounds concurrent child resolutions per object. Zero is
	// unbounded.
	MaxFanOut int `mapstructure:"max_fan_out" yaml:"max_fan_out" validate:"gte=0"`

	// Prefetch downloads the whole closure before construction starts.
	// Default: true
	Prefetch bool `mapstructure:"prefetch" yaml:"prefetch"`
}

// Transport types.
const (
	TransportMemory = "memory"
	TransportRemote = "remote"
	TransportS3     = "s3"
)

// TransportConfig selects where objects are downloaded from.
type TransportConfig struct {
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory remote s3"`

	// File is an NDJSON object dump served by the memory transport.
	File string `mapstructure:"file" yaml:"file,omitempty"`

	// Only the section matching Type is validated.
	Remote remote.Config `mapstructure:"remote" yaml:"remote" validate:"-"`
	S3     s3.Config     `mapstructure:"s3" yaml:"s3" validate:"-"`
}

// Load reads configuration from configPath (or the default location when
// empty), applies defaults and validates. A missing file yields defaults
// with environment overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	return decode(v)
}

// decode unmarshals v over the defaults and validates the result.
func decode(v *viper.Viper) (*Config, error) {
	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for commands that need a configuration file to exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Create one with:\n"+
			"  objectloader config init --config %s",
			configPath, configPath)
	}
	return Load(configPath)
}

// SaveConfig writes cfg as YAML to path with owner-only permissions, since
// it may contain credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnv registers every leaf key so AutomaticEnv overrides apply even
// when the key is absent from the file.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")
		name := tag[0]
		if name == "-" || !f.IsExported() {
			continue
		}
		squash := len(tag) > 1 && tag[1] == "squash"
		if name == "" && !squash {
			continue
		}

		key := name
		if prefix != "" && name != "" {
			key = prefix + "." + name
		} else if name == "" {
			key = prefix
		}

		if f.Type.Kind() == reflect.Struct {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reports whether a file was read. A missing file is not an
// error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks parses human-readable sizes, durations and
// comma-separated lists from files and environment variables.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		}
		return data, nil
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		}
		return data, nil
	}
}

// getConfigDir is $XDG_CONFIG_HOME/objectloader, falling back to
// ~/.config/objectloader and finally the working directory.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "objectloader")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "objectloader")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a file exists at the default path.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
