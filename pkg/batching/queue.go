// Package batching provides a generic queue that accumulates items and
// drains them in batches to a processing function on a background goroutine.
//
// The pause between drain cycles adapts to the cost of processing: a batch
// that took longer than the current interval grows it by 1.5x, a faster one
// shrinks it by 0.8x, always within [MinInterval, MaxInterval]. The interval
// is only re-evaluated once the backlog is below half a batch, so the queue
// does not oscillate while catching up.
package batching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/objectloader/internal/logger"
)

// ErrDisposed is returned by Add after Dispose has been called.
var ErrDisposed = errors.New("batching: queue disposed")

const (
	growFactor   = 1.5
	shrinkFactor = 0.8
)

// ProcessFunc handles one batch. Errors are logged and counted; the batch is
// not retried.
type ProcessFunc[T any] func(ctx context.Context, batch []T) error

// Config configures a Queue.
type Config struct {
	// BatchSize is the maximum number of items handed to one ProcessFunc call.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0"`

	// MaxWaitTime is the starting interval between drain cycles.
	MaxWaitTime time.Duration `mapstructure:"max_wait_time" yaml:"max_wait_time"`

	// MinInterval and MaxInterval bound the adaptive interval.
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// DefaultConfig returns sensible defaults for write-behind batching.
func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		MaxWaitTime: 200 * time.Millisecond,
		MinInterval: 20 * time.Millisecond,
		MaxInterval: 3 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = d.MaxWaitTime
	}
	if c.MinInterval <= 0 {
		c.MinInterval = min(d.MinInterval, c.MaxWaitTime)
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = max(d.MaxInterval, c.MaxWaitTime)
	}
	if c.MinInterval > c.MaxInterval {
		c.MinInterval = c.MaxInterval
	}
	c.MaxWaitTime = min(max(c.MaxWaitTime, c.MinInterval), c.MaxInterval)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending   int
	Batches   uint64
	Processed uint64 // items in successful batches
	Failed    uint64 // items in failed batches
	Interval  time.Duration
}

// Option customizes a Queue.
type Option[T any] func(*Queue[T])

// WithKey enables Get by extracting a lookup key from each item.
func WithKey[T any](key func(T) string) Option[T] {
	return func(q *Queue[T]) { q.key = key }
}

// WithMetrics attaches a metrics sink. nil disables collection.
func WithMetrics[T any](m Metrics) Option[T] {
	return func(q *Queue[T]) { q.metrics = m }
}

// WithName labels log lines and metrics for this queue.
func WithName[T any](name string) Option[T] {
	return func(q *Queue[T]) { q.name = name }
}

// Queue is an unbounded FIFO drained in batches by a background goroutine.
type Queue[T any] struct {
	cfg     Config
	process ProcessFunc[T]
	key     func(T) string
	metrics Metrics
	name    string

	mu       sync.Mutex
	items    []T
	interval time.Duration
	disposed bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	batches   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a queue and starts its drain loop.
func New[T any](cfg Config, process ProcessFunc[T], opts ...Option[T]) *Queue[T] {
	cfg.applyDefaults()
	q := &Queue[T]{
		cfg:      cfg,
		process:  process,
		name:     "batching",
		interval: cfg.MaxWaitTime,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Add appends an item. It never blocks; a full batch wakes the loop early.
func (q *Queue[T]) Add(item T) error {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return ErrDisposed
	}
	q.items = append(q.items, item)
	n := len(q.items)
	q.mu.Unlock()

	if n >= q.cfg.BatchSize {
		q.signal()
	}
	return nil
}

// AddAll appends several items at once.
func (q *Queue[T]) AddAll(items []T) error {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return ErrDisposed
	}
	q.items = append(q.items, items...)
	n := len(q.items)
	q.mu.Unlock()

	if n >= q.cfg.BatchSize {
		q.signal()
	}
	return nil
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Count returns the number of items waiting to be processed.
func (q *Queue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get returns the first pending item whose key equals key. It scans the
// queue linearly and requires WithKey.
func (q *Queue[T]) Get(key string) (T, bool) {
	var zero T
	if q.key == nil {
		return zero, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if q.key(it) == key {
			return it, true
		}
	}
	return zero, false
}

// Interval returns the current pause between drain cycles.
func (q *Queue[T]) Interval() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.interval
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	pending, interval := len(q.items), q.interval
	q.mu.Unlock()
	return Stats{
		Pending:   pending,
		Batches:   q.batches.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Interval:  interval,
	}
}

// Dispose stops accepting items and waits until everything already queued
// has been processed, or ctx is done.
func (q *Queue[T]) Dispose(ctx context.Context) error {
	q.mu.Lock()
	q.disposed = true
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.stop) })

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: drain interrupted with %d items pending: %w", q.name, q.Count(), ctx.Err())
	}
}

// Done is closed once the drain loop has exited after Dispose.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) run() {
	defer close(q.done)

	timer := time.NewTimer(q.Interval())
	defer timer.Stop()

	stopping := false
	for {
		if batch := q.take(); len(batch) > 0 {
			elapsed := q.runBatch(batch)
			q.adjust(elapsed)
			if stopping {
				continue
			}
		} else if stopping {
			return
		}

		timer.Reset(q.Interval())
		select {
		case <-timer.C:
		case <-q.wake:
		case <-q.stop:
			stopping = true
			logger.Debug("Draining batching queue",
				logger.KeyComponent, q.name, logger.KeyPending, q.Count())
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// take removes up to BatchSize items from the head of the queue.
func (q *Queue[T]) take() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(q.items), q.cfg.BatchSize)
	if n == 0 {
		return nil
	}
	batch := make([]T, n)
	copy(batch, q.items[:n])

	var zero T
	for i := range n {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

func (q *Queue[T]) runBatch(batch []T) time.Duration {
	start := time.Now()
	err := q.process(context.Background(), batch)
	elapsed := time.Since(start)

	q.batches.Add(1)
	if err != nil {
		q.failed.Add(uint64(len(batch)))
		logger.Warn("Batch processing failed",
			logger.KeyComponent, q.name,
			logger.KeyBatchSize, len(batch),
			logger.KeyError, err)
	} else {
		q.processed.Add(uint64(len(batch)))
	}
	observeBatch(q.metrics, q.name, len(batch), elapsed, err)
	return elapsed
}

// adjust grows or shrinks the interval based on the last batch duration,
// but only once the backlog has fallen below half a batch.
func (q *Queue[T]) adjust(elapsed time.Duration) {
	q.mu.Lock()
	if len(q.items) >= q.cfg.BatchSize/2 && q.cfg.BatchSize > 1 {
		q.mu.Unlock()
		return
	}
	if elapsed > q.interval {
		q.interval = min(time.Duration(float64(q.interval)*growFactor), q.cfg.MaxInterval)
	} else {
		q.interval = max(time.Duration(float64(q.interval)*shrinkFactor), q.cfg.MinInterval)
	}
	interval := q.interval
	q.mu.Unlock()

	recordInterval(q.metrics, q.name, interval)
}
