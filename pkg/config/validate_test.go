package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/store/factory"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.Remote.URL = "http://localhost:8080"
	require.NoError(t, Validate(cfg))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "LOUD" }, "oneof"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "oneof"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "lte"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "max"},
		{"transport type", func(c *Config) { c.Transport.Type = "ftp" }, "oneof"},
		{"remote url", func(c *Config) { c.Transport.Remote.URL = "" }, "transport.remote"},
		{"s3 bucket", func(c *Config) { c.Transport.Type = TransportS3 }, "transport.s3"},
		{"store type", func(c *Config) { c.Store.Type = "mongo" }, "oneof"},
		{"badger path", func(c *Config) { c.Store.Type = factory.TypeBadger }, "store.badger"},
		{"jwt secret", func(c *Config) { c.Server.JWTSecret = "short" }, "min"},
		{"fan out", func(c *Config) { c.Traverser.MaxFanOut = -1 }, "gte"},
		{"cache budget", func(c *Config) { c.Cache.MaxSizeInMb = -1 }, "gt"},
		{"queue capacity", func(c *Config) { c.Queue.Capacity = 10 }, "queue.capacity"},
		{"intervals", func(c *Config) {
			c.Batching.MinInterval = c.Batching.MaxInterval * 2
		}, "min_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Transport.Remote.URL = "http://localhost:8080"
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAcceptsAlternatives(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.Type = TransportMemory
	cfg.Store.Type = factory.TypeBadger
	cfg.Store.Badger.InMemory = true
	assert.NoError(t, Validate(cfg))

	cfg.Transport.Type = TransportS3
	cfg.Transport.S3.Bucket = "objects"
	cfg.Store.Type = factory.TypeSQL
	cfg.Store.SQL.Path = ":memory:"
	assert.NoError(t, Validate(cfg))
}
