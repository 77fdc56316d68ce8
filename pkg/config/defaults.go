package config

import (
	"strings"
	"time"

	"github.com/marmos91/objectloader/internal/bytesize"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/batching"
	"github.com/marmos91/objectloader/pkg/cache"
	"github.com/marmos91/objectloader/pkg/loader"
	"github.com/marmos91/objectloader/pkg/store/factory"
	"github.com/marmos91/objectloader/pkg/transport/remote"
	"github.com/marmos91/objectloader/pkg/writebehind"
)

// GetDefaultConfig returns a Config with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Config:    telemetry.DefaultConfig(),
			Profiling: telemetry.DefaultProfilingConfig(),
		},
		Cache:     cache.DefaultConfig(),
		Batching:  batching.DefaultConfig(),
		Traverser: TraverserConfig{Prefetch: true},
		Loader:    loader.DefaultConfig(),
		Transport: TransportConfig{
			Type:   TransportRemote,
			Remote: remote.DefaultConfig(),
		},
		Store:  factory.Config{Type: factory.TypeNone},
		Worker: writebehind.DefaultWorkerConfig(),
	}
	// A local "objectloader serve" is the default object source.
	cfg.Transport.Remote.URL = "http://localhost:8080"
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyQueueDefaults(&cfg.Queue)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Cache.MaxSizeInMb == 0 {
		cfg.Cache.MaxSizeInMb = cache.DefaultConfig().MaxSizeInMb
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = factory.TypeNone
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = TransportRemote
	}
	cfg.Worker.Batching = cfg.Batching
	cfg.Server.ShutdownTimeout = cfg.ShutdownTimeout
	cfg.Server.ApplyDefaults()
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	d := telemetry.DefaultConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = d.ServiceName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = d.Endpoint
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = telemetry.DefaultProfilingConfig().Endpoint
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = telemetry.DefaultProfilingConfig().ProfileTypes
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Capacity == 0 {
		cfg.Capacity = 64 * bytesize.MiB
	}
	if cfg.EnqueueTimeout == 0 {
		cfg.EnqueueTimeout = writebehind.DefaultWriterConfig().EnqueueTimeout
	}
}
