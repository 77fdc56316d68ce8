// Package gormstore provides a Store on SQLite or PostgreSQL through GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// queryChunk bounds the number of ids bound into one IN clause.
const queryChunk = 500

// Config configures the GORM store.
type Config struct {
	Type DatabaseType `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=sqlite postgres"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`

	// Table names the objects table.
	Table string `mapstructure:"table" yaml:"table,omitempty"`

	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Table == "" {
		c.Table = "objects"
	}
	if c.Type == DatabaseTypePostgres {
		if c.MaxOpenConns == 0 {
			c.MaxOpenConns = 25
		}
		if c.MaxIdleConns == 0 {
			c.MaxIdleConns = 5
		}
	}
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.Path == "" {
			return errors.New("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.DSN == "" {
			return errors.New("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// Object is the row shape of one stored object.
type Object struct {
	ID        string `gorm:"primaryKey;size:128"`
	Data      []byte `gorm:"not null"`
	Size      int
	CreatedAt time.Time
}

// Store is a GORM-backed store.Store.
type Store struct {
	db    *gorm.DB
	typ   DatabaseType
	table string

	mu     sync.RWMutex
	closed bool
}

// New opens the database and migrates the objects table.
func New(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// WAL lets the loader read while the worker writes.
		dialector = sqlite.Open(cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	if cfg.Type == DatabaseTypePostgres {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	} else if cfg.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Table(cfg.Table).AutoMigrate(&Object{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	logger.Debug("SQL store opened", logger.KeyStoreType, string(cfg.Type))
	return &Store{db: db, typ: cfg.Type, table: cfg.Table}, nil
}

// DB exposes the GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Type() string { return string(s.typ) }

func (s *Store) GetMany(ctx context.Context, ids []string) ([]base.Item, []string, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreGetMany, s.Type(), len(ids))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, store.ErrClosed
	}

	found := make(map[string]base.Item, len(ids))
	for chunk := range chunks(ids, queryChunk) {
		var rows []Object
		if err := s.db.WithContext(ctx).Table(s.table).Where("id IN ?", chunk).Find(&rows).Error; err != nil {
			telemetry.RecordError(ctx, err)
			return nil, nil, fmt.Errorf("query objects: %w", err)
		}
		for _, row := range rows {
			it, err := base.NewItemFromJSON(row.Data)
			if err != nil {
				return nil, nil, fmt.Errorf("decode %s: %w", row.ID, err)
			}
			found[row.ID] = it
		}
	}

	items, missing := store.Split(ids, found)
	return items, missing, nil
}

func (s *Store) PutMany(ctx context.Context, items []base.Item) error {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStorePutMany, s.Type(), len(items))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	if len(items) == 0 {
		return nil
	}

	rows := make([]Object, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.BaseID]; dup {
			continue
		}
		seen[it.BaseID] = struct{}{}
		raw, err := base.Encode(it.Base)
		if err != nil {
			return fmt.Errorf("encode %s: %w", it.BaseID, err)
		}
		rows = append(rows, Object{ID: it.BaseID, Data: raw, Size: len(raw)})
	}

	err := s.db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, queryChunk/4).Error
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("insert objects: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count objects: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// chunks yields consecutive slices of ids of at most n elements.
func chunks(ids []string, n int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for len(ids) > 0 {
			k := min(n, len(ids))
			if !yield(ids[:k]) {
				return
			}
			ids = ids[k:]
		}
	}
}

var _ store.Store = (*Store)(nil)
