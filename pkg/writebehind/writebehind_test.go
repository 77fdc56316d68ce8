package writebehind

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/batching"
	"github.com/marmos91/objectloader/pkg/itemqueue"
	"github.com/marmos91/objectloader/pkg/ringbuffer"
	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/store/memory"
)

func newQueue(t *testing.T, capacity int) *itemqueue.Queue {
	t.Helper()
	rb, err := ringbuffer.New(capacity)
	require.NoError(t, err)
	q := itemqueue.New(rb)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func makeItems(n int) []base.Item {
	items := make([]base.Item, n)
	for i := range items {
		items[i] = base.NewItem(base.Base{"id": fmt.Sprintf("obj-%03d", i), "n": float64(i)})
	}
	return items
}

func fastConfig() WorkerConfig {
	return WorkerConfig{
		MaxItems:    16,
		PollTimeout: 10 * time.Millisecond,
		Batching:    batching.Config{BatchSize: 8, MaxWaitTime: 5 * time.Millisecond},
	}
}

// runWorker starts w and returns a function that stops it and reports the
// result of Run.
func runWorker(t *testing.T, w *Worker) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
			return nil
		}
	}
}

func TestItemsReachTheStore(t *testing.T) {
	q := newQueue(t, 1<<16)
	sink := memory.New()
	writer := NewWriter(q, WriterConfig{})
	worker := NewWorker(q, sink, fastConfig(), nil)
	stop := runWorker(t, worker)

	assert.Equal(t, 50, writer.Write(makeItems(50)))

	require.Eventually(t, func() bool {
		n, err := sink.Count(context.Background())
		return err == nil && n == 50
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	found, missing, err := sink.GetMany(context.Background(), []string{"obj-000", "obj-049"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Empty(t, missing)

	st := worker.Stats()
	assert.EqualValues(t, 50, st.Received)
	assert.EqualValues(t, 50, st.Persisted)
	assert.Zero(t, st.Failed)
	assert.EqualValues(t, 50, writer.Stats().Written)
}

func TestShutdownDrainsQueuedItems(t *testing.T) {
	q := newQueue(t, 1<<16)
	sink := memory.New()
	writer := NewWriter(q, WriterConfig{})

	// Everything is queued before the worker ever polls.
	require.Equal(t, 30, writer.Write(makeItems(30)))

	cfg := fastConfig()
	cfg.Batching = batching.Config{BatchSize: 4, MaxWaitTime: time.Hour, MaxInterval: time.Hour}
	worker := NewWorker(q, sink, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, worker.Run(ctx))

	n, err := sink.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 30, n)
	assert.True(t, q.IsEmpty())
}

func TestWriteDropsWhenBufferStaysFull(t *testing.T) {
	q := newQueue(t, 512)
	writer := NewWriter(q, WriterConfig{EnqueueTimeout: 20 * time.Millisecond})

	n := writer.Write(makeItems(40))
	assert.Less(t, n, 40)

	st := writer.Stats()
	assert.EqualValues(t, n, st.Written)
	assert.EqualValues(t, 40-n, st.Dropped)
	assert.Zero(t, writer.Write(nil))
}

type failingStore struct {
	store.Store
}

func (failingStore) PutMany(context.Context, []base.Item) error {
	return errors.New("disk full")
}

func (failingStore) Type() string { return "failing" }

func TestFailedBatchesAreRecorded(t *testing.T) {
	q := newQueue(t, 1<<16)
	worker := NewWorker(q, failingStore{Store: memory.New()}, fastConfig(), nil)
	NewWriter(q, WriterConfig{}).Write(makeItems(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, worker.Run(ctx))

	st := worker.Stats()
	assert.EqualValues(t, 5, st.Failed)
	assert.Zero(t, st.Persisted)
	require.Error(t, st.LastError)
	assert.Contains(t, st.LastError.Error(), "disk full")
	assert.False(t, st.LastErrorAt.IsZero())
}

func TestRunTwice(t *testing.T) {
	q := newQueue(t, 4096)
	worker := NewWorker(q, memory.New(), fastConfig(), nil)
	stop := runWorker(t, worker)

	require.Eventually(t, func() bool { return worker.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, worker.Run(context.Background()), ErrRunning)
	require.NoError(t, stop())
}

func TestWorkerStopsWhenBufferCloses(t *testing.T) {
	q := newQueue(t, 4096)
	worker := NewWorker(q, memory.New(), fastConfig(), nil)

	errc := make(chan error, 1)
	go func() { errc <- worker.Run(context.Background()) }()

	require.NoError(t, q.Close())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not notice the closed buffer")
	}
}

func TestSharedSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writebehind.seg")
	producer, err := ringbuffer.Create(path, 1<<16)
	if errors.Is(err, ringbuffer.ErrUnsupported) {
		t.Skip("shared segments are not supported on this platform")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	consumer, err := ringbuffer.Attach(producer.Handle())
	require.NoError(t, err)
	t.Cleanup(func() { _ = consumer.Close() })

	sink := memory.New()
	worker := NewWorker(itemqueue.New(consumer), sink, fastConfig(), nil)
	stop := runWorker(t, worker)

	NewWriter(itemqueue.New(producer), WriterConfig{}).Write(makeItems(20))

	require.Eventually(t, func() bool {
		n, err := sink.Count(context.Background())
		return err == nil && n == 20
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
}
