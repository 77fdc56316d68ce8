package deferment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxSizeInMb float64) *Manager {
	t.Helper()
	m := NewManager(cache.NewMemoryCache(cache.Config{MaxSizeInMb: maxSizeInMb}, nil))
	t.Cleanup(m.Dispose)
	return m
}

func item(id string) base.Item {
	return base.NewItem(base.Base{"id": id})
}

func sizedItem(id string, size int) base.Item {
	return item(id).WithSize(size)
}

func TestDeferUnknownThenUndefer(t *testing.T) {
	m := newTestManager(t, 1)

	d, known, err := m.Defer("A")
	require.NoError(t, err)
	assert.False(t, known)
	assert.True(t, m.IsOutstanding("A"))

	_, ok, _ := d.Result()
	assert.False(t, ok)

	require.NoError(t, m.Undefer(item("A"), nil))

	b, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", b.ID())
	assert.False(t, m.IsOutstanding("A"))
}

func TestDeferCachedIsKnownAndResolved(t *testing.T) {
	m := newTestManager(t, 1)
	require.NoError(t, m.Undefer(item("A"), nil))

	d, known, err := m.Defer("A")
	require.NoError(t, err)
	assert.True(t, known)

	b, ok, err := d.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "A", b.ID())
	assert.Zero(t, m.Stats().Created)
}

func TestConcurrentDeferCreatesOneDeferment(t *testing.T) {
	m := newTestManager(t, 1)
	const n = 64

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		cells      = map[*DeferredBase]struct{}{}
		unknowns   int
		registered int
	)
	results := make([]base.Base, n)

	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, known, err := m.Defer("X")
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			cells[d] = struct{}{}
			if !known {
				unknowns++
			}
			registered++
			mu.Unlock()

			b, err := d.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = b
		}()
	}
	close(start)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return registered == n
	}, 2*time.Second, time.Millisecond)

	arrived := base.Base{"id": "X"}
	require.NoError(t, m.Undefer(base.NewItem(arrived), nil))
	wg.Wait()

	assert.Equal(t, 1, unknowns)
	assert.Len(t, cells, 1)
	assert.EqualValues(t, 1, m.Stats().Created)
	assert.EqualValues(t, 1, m.Stats().Resolved)
	for _, b := range results {
		// Same map instance, not merely equal contents.
		assert.Equal(t, fmt.Sprintf("%p", arrived), fmt.Sprintf("%p", b))
	}
}

func TestUndeferWithoutDeferJustCaches(t *testing.T) {
	m := newTestManager(t, 1)
	require.NoError(t, m.Undefer(item("A"), nil))

	b, ok := m.Cached("A")
	require.True(t, ok)
	assert.Equal(t, "A", b.ID())
	assert.Zero(t, m.Stats().Resolved)
}

func TestUndeferRejectsInvalidItem(t *testing.T) {
	m := newTestManager(t, 1)
	err := m.Undefer(base.Item{BaseID: "A", Base: base.Base{"id": "B"}}, nil)
	assert.ErrorIs(t, err, base.ErrIDMismatch)
}

func TestEvictionRequestsOnlyUnawaitedIDs(t *testing.T) {
	// Budget of 1 KiB: each 600-byte item evicts the previous one.
	m := newTestManager(t, 1.0/1024)

	var requested []string
	request := func(id string) { requested = append(requested, id) }

	require.NoError(t, m.Undefer(sizedItem("A", 600), request))
	require.NoError(t, m.Undefer(sizedItem("B", 600), request))
	assert.Equal(t, []string{"A"}, requested)

	// C is awaited while resident, as happens when another undefer evicts
	// it between its own cache insert and resolution.
	_, known, err := m.Defer("C")
	require.NoError(t, err)
	require.False(t, known)
	m.cache.Add(sizedItem("C", 600), nil)

	requested = nil
	require.NoError(t, m.Undefer(sizedItem("D", 600), request))
	assert.Empty(t, requested)
	assert.True(t, m.IsOutstanding("C"))
	assert.EqualValues(t, 1, m.Stats().Refetches)
}

func TestSweepRequestsExpired(t *testing.T) {
	c := cache.NewMemoryCache(cache.Config{MaxSizeInMb: 1, TTL: time.Millisecond}, nil)
	m := NewManager(c)
	defer m.Dispose()

	require.NoError(t, m.Undefer(item("A"), nil))
	time.Sleep(5 * time.Millisecond)

	var requested []string
	assert.Equal(t, 1, m.Sweep(func(id string) { requested = append(requested, id) }))
	assert.Equal(t, []string{"A"}, requested)
}

func TestRejectForgetsDeferment(t *testing.T) {
	m := newTestManager(t, 1)
	d, _, err := m.Defer("A")
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.True(t, m.Reject("A", boom))
	assert.False(t, m.Reject("A", boom))

	_, err = d.Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	_, known, err := m.Defer("A")
	require.NoError(t, err)
	assert.False(t, known, "a rejected id must be fetchable again")
}

func TestWaitHonoursContext(t *testing.T) {
	m := newTestManager(t, 1)
	d, _, err := m.Defer("A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = d.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, m.IsOutstanding("A"))
}

func TestDisposeRejectsWaitersAndFailsFast(t *testing.T) {
	m := NewManager(cache.NewMemoryCache(cache.Config{MaxSizeInMb: 1}, nil))

	d1, _, err := m.Defer("A")
	require.NoError(t, err)
	d2, _, err := m.Defer("B")
	require.NoError(t, err)

	m.Dispose()
	m.Dispose()

	for _, d := range []*DeferredBase{d1, d2} {
		select {
		case <-d.Done():
		default:
			t.Fatalf("deferment %s left pending after dispose", d.ID())
		}
		_, err := d.Wait(context.Background())
		assert.ErrorIs(t, err, ErrDisposed)
	}

	_, _, err = m.Defer("C")
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, m.Undefer(item("C"), nil), ErrDisposed)
	assert.Zero(t, m.Stats().Outstanding)
}

func TestDeferredCompletesOnce(t *testing.T) {
	d := newDeferred("A")
	assert.True(t, d.found(base.Base{"id": "A"}))
	assert.False(t, d.reject(errors.New("late")))
	assert.False(t, d.found(base.Base{"id": "A", "v": 2.0}))

	b, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, b, "v")
}
