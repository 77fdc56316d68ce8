// Package badger provides a Store on an embedded BadgerDB.
//
// Each object is one key, "obj:" followed by its id, holding the JSON
// encoding.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
)

const keyPrefix = "obj:"

// Config configures the Badger store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string `mapstructure:"path" yaml:"path"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory,omitempty"`

	// SyncWrites fsyncs every write batch.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes,omitempty"`
}

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db *badgerdb.DB

	mu     sync.RWMutex
	closed bool
}

// New opens (or creates) the database described by cfg.
func New(cfg Config) (*Store, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(badgerLogger{})

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Debug("Badger store opened", logger.KeyPath, cfg.Path, logger.KeyStoreType, "badger")
	return &Store{db: db}, nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *Store) guard() error {
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) GetMany(ctx context.Context, ids []string) ([]base.Item, []string, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreGetMany, s.Type(), len(ids))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, nil, err
	}

	found := make(map[string]base.Item, len(ids))
	err := s.db.View(func(txn *badgerdb.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := txn.Get(key(id))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = entry.Value(func(val []byte) error {
				it, err := base.NewItemFromJSON(val)
				if err != nil {
					return fmt.Errorf("decode %s: %w", id, err)
				}
				found[id] = it
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, nil, fmt.Errorf("badger get: %w", err)
	}

	items, missing := store.Split(ids, found)
	return items, missing, nil
}

func (s *Store) PutMany(ctx context.Context, items []base.Item) error {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStorePutMany, s.Type(), len(items))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	// Skip ids already present so existing values are never rewritten.
	var fresh []base.Item
	seen := make(map[string]struct{}, len(items))
	err := s.db.View(func(txn *badgerdb.Txn) error {
		for _, it := range items {
			if _, dup := seen[it.BaseID]; dup {
				continue
			}
			seen[it.BaseID] = struct{}{}
			_, err := txn.Get(key(it.BaseID))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				fresh = append(fresh, it)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger lookup: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, it := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := base.Encode(it.Base)
		if err != nil {
			return fmt.Errorf("encode %s: %w", it.BaseID, err)
		}
		if err := wb.Set(key(it.BaseID), raw); err != nil {
			return fmt.Errorf("badger set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("badger flush: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger count: %w", err)
	}
	return n, nil
}

func (s *Store) Type() string { return "badger" }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger routes Badger's own logging to the structured logger. Info
// and debug chatter is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...), logger.KeyComponent, "badger")
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...), logger.KeyComponent, "badger")
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...), logger.KeyComponent, "badger")
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...), logger.KeyComponent, "badger")
}

var _ store.Store = (*Store)(nil)
