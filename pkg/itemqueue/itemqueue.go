// Package itemqueue carries base.Item records over a ring buffer segment.
//
// Every item is encoded as one JSON record. Encoding failures and records that
// cannot be decoded on the other side are dropped individually; they never
// fail a whole batch.
package itemqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/ringbuffer"
)

// ErrIncomplete is returned by FullyEnqueue when the deadline passed before
// every item was accepted.
var ErrIncomplete = errors.New("itemqueue: not all items enqueued before deadline")

// retryBackoff is the pause between FullyEnqueue rounds when the buffer is
// still full.
const retryBackoff = time.Millisecond

// Stats reports cumulative queue counters.
type Stats struct {
	Enqueued   uint64 // records accepted by the ring buffer
	Dequeued   uint64 // records decoded and returned
	Rejected   uint64 // records refused (full, timeout or too large)
	Unencoded  uint64 // items that could not be serialized
	Corrupt    uint64 // records that could not be decoded
	Oversized  uint64 // items larger than the whole segment
	BufferUsed int    // bytes currently queued
}

// Queue is a typed facade over a ringbuffer.Queue.
type Queue struct {
	rb *ringbuffer.Queue

	enqueued  atomic.Uint64
	dequeued  atomic.Uint64
	rejected  atomic.Uint64
	unencoded atomic.Uint64
	corrupt   atomic.Uint64
	oversized atomic.Uint64
}

// New wraps an existing ring buffer.
func New(rb *ringbuffer.Queue) *Queue {
	return &Queue{rb: rb}
}

// Enqueue pushes each item independently and returns how many were accepted.
// All pushes share one deadline; an item that cannot be encoded or does not
// fit is skipped and the next one is still attempted.
func (q *Queue) Enqueue(items []base.Item, timeout time.Duration) int {
	n, _ := q.enqueue(items, time.Now().Add(timeout), false)
	return n
}

// enqueue returns the accepted count and the items worth retrying. With
// inOrder set it stops at the first refused push and returns that item and
// everything after it, so a retry cannot overtake it.
func (q *Queue) enqueue(items []base.Item, deadline time.Time, inOrder bool) (int, []base.Item) {
	var (
		accepted int
		retry    []base.Item
	)
	for i, it := range items {
		rec, err := encode(it)
		if err != nil {
			q.unencoded.Add(1)
			logger.Warn("Dropping item that cannot be encoded",
				logger.KeyBaseID, it.BaseID, logger.KeyError, err)
			continue
		}
		if !q.rb.Fits(len(rec)) {
			q.oversized.Add(1)
			logger.Warn("Dropping item larger than queue capacity",
				logger.KeyBaseID, it.BaseID,
				logger.KeyBytes, len(rec),
				logger.KeyCapacity, q.rb.Capacity())
			continue
		}
		if q.rb.Push(rec, max(time.Until(deadline), 0)) {
			accepted++
			continue
		}
		q.rejected.Add(1)
		if inOrder {
			retry = items[i:]
			break
		}
		retry = append(retry, it)
	}
	q.enqueued.Add(uint64(accepted))
	return accepted, retry
}

// FullyEnqueue keeps retrying until every item that can be encoded has been
// accepted or timeout elapses. Items are pushed in order: once one is refused
// nothing after it is pushed until it is accepted. It returns the number
// accepted and ErrIncomplete when some items were still outstanding at the
// deadline or the buffer was closed.
func (q *Queue) FullyEnqueue(items []base.Item, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	total := 0
	pending := items
	for {
		n, retry := q.enqueue(pending, deadline, true)
		total += n
		if len(retry) == 0 {
			return total, nil
		}
		if q.rb.Closed() || !time.Now().Before(deadline) {
			return total, fmt.Errorf("%w: %d of %d outstanding", ErrIncomplete, len(retry), len(items))
		}
		pending = retry
		time.Sleep(min(retryBackoff, time.Until(deadline)))
	}
}

// Dequeue returns up to maxItems items, waiting up to timeout for the first.
// Records that fail to decode or violate the id invariant are skipped.
func (q *Queue) Dequeue(maxItems int, timeout time.Duration) []base.Item {
	records := q.rb.ShiftN(maxItems, timeout)
	if len(records) == 0 {
		return nil
	}

	items := make([]base.Item, 0, len(records))
	for _, rec := range records {
		it, err := decode(rec)
		if err != nil {
			q.corrupt.Add(1)
			logger.Warn("Skipping corrupt queue record",
				logger.KeyBytes, len(rec), logger.KeyError, err)
			continue
		}
		items = append(items, it)
	}
	q.dequeued.Add(uint64(len(items)))
	return items
}

// Segment returns the handle the consuming side attaches with.
func (q *Queue) Segment() ringbuffer.Handle {
	return q.rb.Handle()
}

// Buffer exposes the underlying ring buffer.
func (q *Queue) Buffer() *ringbuffer.Queue {
	return q.rb
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return q.rb.IsEmpty()
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:   q.enqueued.Load(),
		Dequeued:   q.dequeued.Load(),
		Rejected:   q.rejected.Load(),
		Unencoded:  q.unencoded.Load(),
		Corrupt:    q.corrupt.Load(),
		Oversized:  q.oversized.Load(),
		BufferUsed: q.rb.Len(),
	}
}

// Close closes the underlying ring buffer.
func (q *Queue) Close() error {
	return q.rb.Close()
}

func encode(it base.Item) ([]byte, error) {
	if err := it.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(it)
}

func decode(rec []byte) (base.Item, error) {
	var it base.Item
	if err := json.Unmarshal(rec, &it); err != nil {
		return base.Item{}, err
	}
	if err := it.Validate(); err != nil {
		return base.Item{}, err
	}
	return it.WithSize(len(rec)), nil
}
