package writebehind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/batching"
	"github.com/marmos91/objectloader/pkg/itemqueue"
	"github.com/marmos91/objectloader/pkg/store"
)

// ErrRunning is returned when Run is called on a worker that is already
// running.
var ErrRunning = errors.New("writebehind: worker already running")

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// MaxItems is the most items taken from the ring buffer per poll.
	// Default: 500
	MaxItems int `mapstructure:"max_items" yaml:"max_items" validate:"gte=0"`

	// PollTimeout bounds one wait for records.
	// Default: 250ms
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`

	// DrainTimeout bounds the final flush on shutdown.
	// Default: 30s
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`

	// Batching paces writes to the store. It is filled from the top-level
	// batching section.
	Batching batching.Config `mapstructure:"-" yaml:"-"`
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxItems:     500,
		PollTimeout:  250 * time.Millisecond,
		DrainTimeout: 30 * time.Second,
		Batching:     batching.DefaultConfig(),
	}
}

func (c *WorkerConfig) applyDefaults() {
	d := DefaultWorkerConfig()
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
}

// WorkerStats is a snapshot of Worker counters.
type WorkerStats struct {
	Received    uint64
	Persisted   uint64
	Failed      uint64
	Pending     int
	Interval    time.Duration
	LastError   error
	LastErrorAt time.Time
}

// Worker is the consuming half of the write-behind pipeline.
type Worker struct {
	queue *itemqueue.Queue
	sink  store.Store
	cfg   WorkerConfig
	batch *batching.Queue[base.Item]

	running atomic.Bool

	received  atomic.Uint64
	persisted atomic.Uint64
	failed    atomic.Uint64

	mu          sync.Mutex
	lastError   error
	lastErrorAt time.Time
}

// NewWorker creates a worker that drains queue into sink. m may be nil.
func NewWorker(queue *itemqueue.Queue, sink store.Store, cfg WorkerConfig, m batching.Metrics) *Worker {
	cfg.applyDefaults()
	w := &Worker{queue: queue, sink: sink, cfg: cfg}
	w.batch = batching.New(cfg.Batching, w.flush,
		batching.WithName[base.Item]("writebehind"),
		batching.WithMetrics[base.Item](m),
		batching.WithKey(func(it base.Item) string { return it.BaseID }))
	return w
}

// Run polls the queue until ctx is cancelled or the ring buffer is closed,
// then flushes whatever is still queued. It returns nil on a clean stop.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrRunning
	}

	seg := w.queue.Segment()
	logger.InfoCtx(ctx, "Write-behind worker started",
		logger.KeySegment, seg.Path,
		logger.KeyCapacity, seg.Capacity,
		logger.KeyStoreType, w.sink.Type())

	for ctx.Err() == nil && !w.queue.Buffer().Closed() {
		items := w.queue.Dequeue(w.cfg.MaxItems, w.cfg.PollTimeout)
		if len(items) == 0 {
			continue
		}
		w.received.Add(uint64(len(items)))
		if err := w.batch.AddAll(items); err != nil {
			return err
		}
	}
	return w.shutdown()
}

// shutdown moves the remaining records into the batching queue and waits
// for it to drain.
func (w *Worker) shutdown() error {
	for !w.queue.IsEmpty() {
		items := w.queue.Dequeue(w.cfg.MaxItems, 0)
		w.received.Add(uint64(len(items)))
		if err := w.batch.AddAll(items); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()
	if err := w.batch.Dispose(ctx); err != nil {
		return fmt.Errorf("drain write-behind queue: %w", err)
	}

	st := w.Stats()
	logger.Info("Write-behind worker stopped",
		logger.KeyRecords, st.Received,
		logger.KeyCount, st.Persisted,
		logger.KeyDropped, st.Failed)
	return nil
}

// flush writes one batch to the sink.
func (w *Worker) flush(ctx context.Context, items []base.Item) error {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanWriteBehindFlush, w.sink.Type(), len(items))
	defer span.End()

	if err := w.sink.PutMany(ctx, items); err != nil {
		w.failed.Add(uint64(len(items)))
		w.mu.Lock()
		w.lastError = err
		w.lastErrorAt = time.Now()
		w.mu.Unlock()
		telemetry.RecordError(ctx, err)
		return err
	}
	w.persisted.Add(uint64(len(items)))
	return nil
}

// Pending reports whether id has been dequeued but not yet written.
func (w *Worker) Pending(id string) bool {
	_, ok := w.batch.Get(id)
	return ok
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	lastErr, lastAt := w.lastError, w.lastErrorAt
	w.mu.Unlock()

	bs := w.batch.Stats()
	return WorkerStats{
		Received:    w.received.Load(),
		Persisted:   w.persisted.Load(),
		Failed:      w.failed.Load(),
		Pending:     bs.Pending,
		Interval:    bs.Interval,
		LastError:   lastErr,
		LastErrorAt: lastAt,
	}
}
