// Package deferment coordinates requests for objects that may not have
// arrived yet.
//
// Manager guarantees at most one outstanding DeferredBase per id: the first
// Defer for an unknown id creates it and tells the caller to start the fetch,
// every later Defer shares it, and Undefer resolves it exactly once when the
// object arrives. The MemoryCache behind the manager answers for ids that
// already arrived.
package deferment

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/cache"
)

var (
	// ErrDisposed is returned by every operation on a disposed manager and
	// is the error outstanding deferments are rejected with on disposal.
	ErrDisposed = errors.New("deferment: manager disposed")

	// ErrNotFound means an id is neither cached nor fetchable, which only
	// happens in cache-only operation.
	ErrNotFound = errors.New("deferment: object not found in cache")
)

// Stats is a snapshot of manager counters.
type Stats struct {
	Outstanding int
	Created     uint64 // deferments created
	Resolved    uint64 // deferments resolved by Undefer
	Rejected    uint64 // deferments rejected by Reject or Dispose
	Refetches   uint64 // requestItem calls triggered by eviction
	Cache       cache.Stats
}

// Manager is the fetch-coordination point between graph consumers and
// whatever delivers objects.
type Manager struct {
	mu          sync.Mutex
	outstanding map[string]*DeferredBase
	disposed    bool

	cache *cache.MemoryCache

	created   atomic.Uint64
	resolved  atomic.Uint64
	rejected  atomic.Uint64
	refetches atomic.Uint64
}

// NewManager creates a manager over c. The manager owns c from now on: it is
// the only writer and disposes it.
func NewManager(c *cache.MemoryCache) *Manager {
	return &Manager{
		outstanding: make(map[string]*DeferredBase),
		cache:       c,
	}
}

// Defer registers interest in id.
//
// It returns an already-completed cell for cached ids, the shared cell when
// a deferment for id is outstanding, and otherwise a new pending cell. known
// is false only in the last case, meaning the caller must trigger the fetch.
func (m *Manager) Defer(id string) (d *DeferredBase, known bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, false, ErrDisposed
	}

	if it, ok := m.cache.Get(id); ok {
		return resolvedDeferred(it.Base), true, nil
	}

	if d, ok := m.outstanding[id]; ok {
		return d, true, nil
	}

	d = newDeferred(id)
	m.outstanding[id] = d
	m.created.Add(1)
	return d, false, nil
}

// Undefer supplies an arrived object. It caches the item, then resolves and
// removes any outstanding deferment for it.
//
// When caching evicts other entries, requestItem is called for each evicted
// id that nobody is waiting on. Ids with an outstanding deferment are skipped
// since their fetch is already in flight.
func (m *Manager) Undefer(item base.Item, requestItem func(id string)) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("undefer: %w", err)
	}

	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed {
		return ErrDisposed
	}

	// The cache invokes eviction callbacks after releasing its own lock, so
	// taking m.mu inside them is safe.
	m.cache.Add(item, func(evictedID string) {
		if requestItem == nil || m.IsOutstanding(evictedID) {
			return
		}
		m.refetches.Add(1)
		requestItem(evictedID)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.outstanding[item.BaseID]; ok {
		// Resolve before removing: a concurrent Defer either still finds the
		// (now completed) cell or finds the cache entry.
		d.found(item.Base)
		delete(m.outstanding, item.BaseID)
		m.resolved.Add(1)
	}
	return nil
}

// Reject fails the outstanding deferment for id with err and forgets it, so a
// later Defer starts over. It reports whether a deferment was outstanding.
func (m *Manager) Reject(id string, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.outstanding[id]
	if !ok {
		return false
	}
	d.reject(err)
	delete(m.outstanding, id)
	m.rejected.Add(1)
	return true
}

// IsOutstanding reports whether a fetch for id is in flight.
func (m *Manager) IsOutstanding(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.outstanding[id]
	return ok
}

// Cached returns the cached object for id, if any, without creating a
// deferment.
func (m *Manager) Cached(id string) (base.Base, bool) {
	it, ok := m.cache.Get(id)
	return it.Base, ok
}

// Sweep drops expired cache entries, applying the same refetch rule as
// Undefer to each of them.
func (m *Manager) Sweep(requestItem func(id string)) int {
	return m.cache.Sweep(func(id string) {
		if requestItem == nil || m.IsOutstanding(id) {
			return
		}
		m.refetches.Add(1)
		requestItem(id)
	})
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	outstanding := len(m.outstanding)
	m.mu.Unlock()

	return Stats{
		Outstanding: outstanding,
		Created:     m.created.Load(),
		Resolved:    m.resolved.Load(),
		Rejected:    m.rejected.Load(),
		Refetches:   m.refetches.Load(),
		Cache:       m.cache.Stats(),
	}
}

// Dispose rejects every outstanding deferment with ErrDisposed, clears the
// map and disposes the cache. It is idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	pending := m.outstanding
	m.outstanding = make(map[string]*DeferredBase)
	m.mu.Unlock()

	for _, d := range pending {
		d.reject(ErrDisposed)
	}
	m.rejected.Add(uint64(len(pending)))
	m.cache.Dispose()

	logger.Debug("Deferment manager disposed", logger.KeyPending, len(pending))
}
