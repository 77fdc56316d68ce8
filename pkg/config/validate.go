package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/objectloader/pkg/store/factory"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks cfg against its struct tags and the rules that span
// sections.
func Validate(cfg *Config) error {
	v := getValidator()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	switch cfg.Transport.Type {
	case TransportRemote:
		if err := v.Struct(cfg.Transport.Remote); err != nil {
			return fmt.Errorf("transport.remote: %w", err)
		}
	case TransportS3:
		if err := v.Struct(cfg.Transport.S3); err != nil {
			return fmt.Errorf("transport.s3: %w", err)
		}
	}

	switch cfg.Store.Type {
	case factory.TypeBadger:
		if !cfg.Store.Badger.InMemory && cfg.Store.Badger.Path == "" {
			return errors.New("store.badger: path is required unless in_memory is set")
		}
	case factory.TypeSQL:
		sql := cfg.Store.SQL
		sql.ApplyDefaults()
		if err := sql.Validate(); err != nil {
			return fmt.Errorf("store.sql: %w", err)
		}
	case factory.TypePostgres:
		pg := cfg.Store.Postgres
		pg.ApplyDefaults()
		if err := pg.Validate(); err != nil {
			return fmt.Errorf("store.postgres: %w", err)
		}
	}

	if cfg.Queue.Capacity.Int() < 64 {
		return fmt.Errorf("queue.capacity: %s is below the 64 byte minimum", cfg.Queue.Capacity)
	}
	if b := cfg.Batching; b.MinInterval > 0 && b.MaxInterval > 0 && b.MinInterval > b.MaxInterval {
		return fmt.Errorf("batching: min_interval %s exceeds max_interval %s", b.MinInterval, b.MaxInterval)
	}
	return nil
}
