// Package factory opens the store.Store backend selected by configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/store/badger"
	"github.com/marmos91/objectloader/pkg/store/gormstore"
	"github.com/marmos91/objectloader/pkg/store/memory"
	"github.com/marmos91/objectloader/pkg/store/postgres"
)

// Backend types.
const (
	TypeNone     = "none"
	TypeMemory   = "memory"
	TypeBadger   = "badger"
	TypeSQL      = "sql"
	TypePostgres = "postgres"
)

// Config selects and configures one backend.
type Config struct {
	Type string `mapstructure:"type" yaml:"type" validate:"oneof=none memory badger sql postgres"`

	Badger   badger.Config    `mapstructure:"badger" yaml:"badger"`
	SQL      gormstore.Config `mapstructure:"sql" yaml:"sql"`
	Postgres postgres.Config  `mapstructure:"postgres" yaml:"postgres"`
}

// Open opens the configured backend. Type "none" returns a nil Store, meaning
// nothing is persisted.
func Open(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeMemory:
		return memory.New(), nil
	case TypeBadger:
		return wrap(badger.New(cfg.Badger))
	case TypeSQL:
		return wrap(gormstore.New(cfg.SQL))
	case TypePostgres:
		return wrap(postgres.New(ctx, cfg.Postgres))
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// wrap keeps a failed constructor from yielding a non-nil interface holding
// a nil pointer.
func wrap[S store.Store](s S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
