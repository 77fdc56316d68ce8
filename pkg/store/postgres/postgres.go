// Package postgres provides a Store on PostgreSQL using a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
)

// Store is a pgx-backed store.Store.
type Store struct {
	pool *pgxpool.Pool

	mu     sync.RWMutex
	closed bool
}

// New connects, optionally migrates, and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, cfg); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if cfg.QueryTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.QueryTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("PostgreSQL store ready",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_conns", cfg.MaxConns)
	return &Store{pool: pool}, nil
}

func (s *Store) Type() string { return "postgres" }

func (s *Store) GetMany(ctx context.Context, ids []string) ([]base.Item, []string, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreGetMany, s.Type(), len(ids))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, store.ErrClosed
	}

	found := make(map[string]base.Item, len(ids))
	if len(ids) > 0 {
		rows, err := s.pool.Query(ctx, `SELECT id, data FROM objects WHERE id = ANY($1)`, ids)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, nil, fmt.Errorf("query objects: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id  string
				raw []byte
			)
			if err := rows.Scan(&id, &raw); err != nil {
				return nil, nil, fmt.Errorf("scan object: %w", err)
			}
			it, err := base.NewItemFromJSON(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("decode %s: %w", id, err)
			}
			found[id] = it
		}
		if err := rows.Err(); err != nil {
			return nil, nil, fmt.Errorf("query objects: %w", err)
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

	batch := &pgx.Batch{}
	for _, it := range items {
		raw, err := base.Encode(it.Base)
		if err != nil {
			return fmt.Errorf("encode %s: %w", it.BaseID, err)
		}
		batch.Queue(`INSERT INTO objects (id, data, size) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			it.BaseID, raw, len(raw))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
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
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM objects`).Scan(&n); err != nil {
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
	s.pool.Close()
	return nil
}

var _ store.Store = (*Store)(nil)

// Exec runs a statement that returns no rows.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}
