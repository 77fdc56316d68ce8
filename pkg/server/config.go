package server

import (
	"time"

	"github.com/marmos91/objectloader/internal/bytesize"
)

// Config configures the object HTTP server.
type Config struct {
	// Address is the listen address.
	// Default: ":8080"
	Address string `mapstructure:"address" yaml:"address" validate:"required"`

	// ReadTimeout bounds reading a whole request, body included.
	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing a response. Batch responses stream, so
	// this is generous.
	// Default: 60s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// JWTSecret enables HS256 bearer authentication on /objects when set.
	// Must be at least 32 characters long.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty" validate:"omitempty,min=32"`

	// MaxBatchIDs caps the ids accepted by one batch request.
	// Default: 1000
	MaxBatchIDs int `mapstructure:"max_batch_ids" yaml:"max_batch_ids" validate:"gte=0"`

	// MaxBodySize caps request bodies.
	// Default: 64Mi
	MaxBodySize bytesize.ByteSize `mapstructure:"max_body_size" yaml:"max_body_size"`

	// ShutdownTimeout bounds graceful shutdown. Set from the top-level
	// shutdown_timeout.
	ShutdownTimeout time.Duration `mapstructure:"-" yaml:"-"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxBatchIDs == 0 {
		c.MaxBatchIDs = 1000
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = 64 * bytesize.MiB
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
