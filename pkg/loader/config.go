package loader

import (
	"time"

	"github.com/marmos91/objectloader/pkg/batching"
)

// Config holds tuning for an ObjectLoader.
type Config struct {
	// Reader paces lookups against the persistence sink.
	Reader batching.Config `mapstructure:"reader" yaml:"reader"`

	// Download paces batch fetches from the downloader.
	Download batching.Config `mapstructure:"download" yaml:"download"`

	// RefetchEvicted re-requests ids pushed out of the cache while nobody
	// was waiting for them.
	// Default: false
	RefetchEvicted bool `mapstructure:"refetch_evicted" yaml:"refetch_evicted"`

	// MaxRefetchPerBatch caps how many evicted ids one undefer batch may
	// re-request.
	// Default: 32
	MaxRefetchPerBatch int `mapstructure:"max_refetch_per_batch" yaml:"max_refetch_per_batch" validate:"gte=0"`

	// DisposeTimeout bounds how long Dispose waits for in-flight batches
	// when its context has no deadline.
	// Default: 30s
	DisposeTimeout time.Duration `mapstructure:"dispose_timeout" yaml:"dispose_timeout"`
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		Reader: batching.Config{
			BatchSize:   500,
			MaxWaitTime: 10 * time.Millisecond,
			MinInterval: time.Millisecond,
			MaxInterval: 500 * time.Millisecond,
		},
		Download: batching.Config{
			BatchSize:   200,
			MaxWaitTime: 20 * time.Millisecond,
			MinInterval: 5 * time.Millisecond,
			MaxInterval: time.Second,
		},
		MaxRefetchPerBatch: 32,
		DisposeTimeout:     30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxRefetchPerBatch < 0 {
		c.MaxRefetchPerBatch = 0
	}
	if c.DisposeTimeout <= 0 {
		c.DisposeTimeout = DefaultConfig().DisposeTimeout
	}
}
