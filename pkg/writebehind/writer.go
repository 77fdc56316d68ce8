// Package writebehind persists loaded objects asynchronously.
//
// The loading side hands items to a Writer, which frames them into an
// ItemQueue backed by a ring buffer. A Worker, in the same process or in
// another one attached to the same segment, drains the queue into a
// BatchingQueue whose process function writes each batch to a store.
package writebehind

import (
	"sync/atomic"
	"time"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/itemqueue"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	// EnqueueTimeout bounds how long Write waits for ring buffer space.
	// Default: 1s
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout" yaml:"enqueue_timeout"`
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{EnqueueTimeout: time.Second}
}

// WriterStats is a snapshot of Writer counters.
type WriterStats struct {
	Written uint64
	Dropped uint64
	Queue   itemqueue.Stats
}

// Writer is the producing half of the write-behind pipeline.
type Writer struct {
	queue   *itemqueue.Queue
	timeout time.Duration

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewWriter wraps queue.
func NewWriter(queue *itemqueue.Queue, cfg WriterConfig) *Writer {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultWriterConfig().EnqueueTimeout
	}
	return &Writer{queue: queue, timeout: cfg.EnqueueTimeout}
}

// Write enqueues items and returns how many made it. Items that do not fit
// before the timeout are dropped; persistence is best effort.
func (w *Writer) Write(items []base.Item) int {
	if len(items) == 0 {
		return 0
	}
	n, err := w.queue.FullyEnqueue(items, w.timeout)
	w.written.Add(uint64(n))
	if dropped := len(items) - n; dropped > 0 {
		w.dropped.Add(uint64(dropped))
	}
	if err != nil {
		logger.Warn("Write-behind enqueue incomplete",
			logger.KeyEnqueued, n,
			logger.KeyDropped, len(items)-n,
			logger.KeyError, err)
	}
	return n
}

// Queue returns the underlying item queue.
func (w *Writer) Queue() *itemqueue.Queue {
	return w.queue
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Queue:   w.queue.Stats(),
	}
}
