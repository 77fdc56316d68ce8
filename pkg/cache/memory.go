// Package cache provides the bounded in-memory store of resolved objects.
//
// MemoryCache is the single source of truth for "is this id already known".
// It enforces a byte budget and a time-to-live:
//
//   - Eviction order is least-recently-used. Both Add and a successful Get
//     move an entry to the front; eviction removes from the back until the
//     new entry fits.
//   - TTL is measured from the last Add of an id. Expired entries are never
//     returned by Get; they are dropped lazily on access, during eviction, or
//     by Sweep.
//   - An item larger than the whole budget is not stored at all.
//
// Eviction callbacks run after the cache lock is released but before Add
// returns, so callbacks may safely call back into the cache.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
)

// bytesPerMB converts the configured budget to bytes.
const bytesPerMB = 1024 * 1024

// Config configures a MemoryCache.
type Config struct {
	// MaxSizeInMb is the resident byte budget in mebibytes.
	MaxSizeInMb float64 `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gt=0"`

	// TTL is how long an entry stays valid after insertion. Zero disables
	// expiry.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// DefaultConfig returns the budget used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxSizeInMb: 256,
		TTL:         10 * time.Minute,
	}
}

// EvictionReason says why an entry left the cache.
type EvictionReason string

const (
	EvictedForSpace EvictionReason = "size"
	EvictedExpired  EvictionReason = "ttl"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Bytes     int64
	MaxBytes  int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Rejected  uint64 // items larger than the whole budget
}

type entry struct {
	item    base.Item
	size    int64
	addedAt time.Time
}

// MemoryCache is an LRU + TTL cache bounded by total item size.
type MemoryCache struct {
	mu       sync.Mutex
	ll       *list.List
	entries  map[string]*list.Element
	size     int64
	maxBytes int64
	ttl      time.Duration
	closed   bool

	hits      uint64
	misses    uint64
	evictions uint64
	rejected  uint64

	now     func() time.Time
	metrics Metrics
}

// NewMemoryCache creates a cache. metrics may be nil.
func NewMemoryCache(cfg Config, metrics Metrics) *MemoryCache {
	if cfg.MaxSizeInMb <= 0 {
		cfg.MaxSizeInMb = DefaultConfig().MaxSizeInMb
	}
	return &MemoryCache{
		ll:       list.New(),
		entries:  make(map[string]*list.Element),
		maxBytes: int64(cfg.MaxSizeInMb * bytesPerMB),
		ttl:      cfg.TTL,
		now:      time.Now,
		metrics:  metrics,
	}
}

// Get returns the cached item for id. Entries older than the TTL are
// treated as absent and dropped.
func (c *MemoryCache) Get(id string) (base.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return base.Item{}, false
	}

	el, ok := c.entries[id]
	if !ok {
		c.misses++
		observeMiss(c.metrics)
		return base.Item{}, false
	}

	e := el.Value.(*entry)
	if c.expired(e) {
		c.removeElement(el)
		c.evictions++
		c.misses++
		recordEviction(c.metrics, EvictedExpired)
		observeMiss(c.metrics)
		recordSize(c.metrics, c.size, c.ll.Len())
		return base.Item{}, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	observeHit(c.metrics)
	return e.item, true
}

// Has reports whether id is cached without affecting recency.
func (c *MemoryCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	return ok && !c.closed && !c.expired(el.Value.(*entry))
}

// Add inserts or refreshes item. When the budget would be exceeded, entries
// are evicted from the least recently used end until the item fits, and
// onEvicted (if non-nil) is called once per evicted id before Add returns.
// It reports whether the item was stored.
func (c *MemoryCache) Add(item base.Item, onEvicted func(id string)) bool {
	size := int64(item.Size())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	if el, ok := c.entries[item.BaseID]; ok {
		c.removeElement(el)
	}

	if size > c.maxBytes {
		c.rejected++
		c.mu.Unlock()
		logger.Debug("Item exceeds cache budget, not caching",
			logger.KeyBaseID, item.BaseID,
			logger.KeyBytes, size,
			logger.KeyCacheCapacity, c.maxBytes)
		return false
	}

	var evicted []string
	now := c.now()
	for c.size+size > c.maxBytes {
		el := c.ll.Back()
		e := el.Value.(*entry)
		reason := EvictedForSpace
		if c.expiredAt(e, now) {
			reason = EvictedExpired
		}
		c.removeElement(el)
		c.evictions++
		recordEviction(c.metrics, reason)
		evicted = append(evicted, e.item.BaseID)
	}

	c.entries[item.BaseID] = c.ll.PushFront(&entry{item: item, size: size, addedAt: now})
	c.size += size
	recordSize(c.metrics, c.size, c.ll.Len())
	c.mu.Unlock()

	if len(evicted) > 0 {
		logger.Debug("Evicted cache entries",
			logger.KeyEvicted, len(evicted),
			logger.KeyBaseID, item.BaseID)
		if onEvicted != nil {
			for _, id := range evicted {
				onEvicted(id)
			}
		}
	}
	return true
}

// Sweep drops every expired entry, calling onEvicted for each. It returns the
// number of entries removed.
func (c *MemoryCache) Sweep(onEvicted func(id string)) int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	var evicted []string
	now := c.now()
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); c.expiredAt(e, now) {
			c.removeElement(el)
			c.evictions++
			recordEviction(c.metrics, EvictedExpired)
			evicted = append(evicted, e.item.BaseID)
		}
		el = prev
	}
	recordSize(c.metrics, c.size, c.ll.Len())
	c.mu.Unlock()

	if onEvicted != nil {
		for _, id := range evicted {
			onEvicted(id)
		}
	}
	return len(evicted)
}

// Len returns the number of resident entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Size returns the tracked resident size in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxBytes returns the configured budget in bytes.
func (c *MemoryCache) MaxBytes() int64 {
	return c.maxBytes
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.ll.Len(),
		Bytes:     c.size,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Rejected:  c.rejected,
	}
}

// Dispose releases every entry. Further calls are no-ops and the cache stays
// empty.
func (c *MemoryCache) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.ll.Init()
	c.entries = make(map[string]*list.Element)
	c.size = 0
	recordSize(c.metrics, 0, 0)
}

func (c *MemoryCache) expired(e *entry) bool {
	return c.expiredAt(e, c.now())
}

func (c *MemoryCache) expiredAt(e *entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.addedAt) >= c.ttl
}

// removeElement must be called with mu held.
func (c *MemoryCache) removeElement(el *list.Element) {
	e := c.ll.Remove(el).(*entry)
	delete(c.entries, e.item.BaseID)
	c.size -= e.size
}
