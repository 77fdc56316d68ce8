package batching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	batches   [][]string
	intervals []time.Duration
	errs      int
}

func (r *recorder) ObserveBatch(_ string, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs++
	}
}

func (r *recorder) RecordInterval(_ string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals = append(r.intervals, d)
}

func (r *recorder) process(_ context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), batch...))
	return nil
}

func (r *recorder) flattened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *recorder) intervalsSnapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.intervals...)
}

func identity(s string) string { return s }

func TestProcessesInFIFOBatches(t *testing.T) {
	rec := &recorder{}
	q := New(Config{BatchSize: 3, MaxWaitTime: 5 * time.Millisecond}, rec.process)

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("item-%d", i)
		require.NoError(t, q.Add(want[i]))
	}

	require.Eventually(t, func() bool { return len(rec.flattened()) == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.flattened())

	rec.mu.Lock()
	for _, b := range rec.batches {
		assert.LessOrEqual(t, len(b), 3)
	}
	rec.mu.Unlock()

	require.NoError(t, q.Dispose(context.Background()))
}

func TestCountAndGet(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{BatchSize: 100, MaxWaitTime: time.Hour, MaxInterval: time.Hour},
		func(context.Context, []string) error { <-block; return nil },
		WithKey(identity))
	defer func() {
		close(block)
		_ = q.Dispose(context.Background())
	}()

	require.NoError(t, q.Add("a"))
	require.NoError(t, q.Add("b"))

	assert.Equal(t, 2, q.Count())
	got, ok := q.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "b", got)

	_, ok = q.Get("zz")
	assert.False(t, ok)
}

func TestGetWithoutKeyFunc(t *testing.T) {
	q := New(Config{BatchSize: 10, MaxWaitTime: time.Hour, MaxInterval: time.Hour},
		func(context.Context, []string) error { return nil })
	defer func() { _ = q.Dispose(context.Background()) }()

	require.NoError(t, q.Add("a"))
	_, ok := q.Get("a")
	assert.False(t, ok)
}

func TestFullBatchWakesLoopEarly(t *testing.T) {
	rec := &recorder{}
	q := New(Config{BatchSize: 4, MaxWaitTime: time.Hour, MaxInterval: time.Hour}, rec.process)
	defer func() { _ = q.Dispose(context.Background()) }()

	require.NoError(t, q.AddAll([]string{"a", "b", "c", "d"}))
	require.Eventually(t, func() bool { return len(rec.flattened()) == 4 }, time.Second, 5*time.Millisecond)
}

func TestDisposeDrainsEverything(t *testing.T) {
	rec := &recorder{}
	q := New(Config{BatchSize: 7, MaxWaitTime: time.Hour, MaxInterval: time.Hour}, rec.process)

	for i := range 50 {
		require.NoError(t, q.Add(fmt.Sprint(i)))
	}
	require.NoError(t, q.Dispose(context.Background()))

	assert.Len(t, rec.flattened(), 50)
	assert.Zero(t, q.Count())
	assert.ErrorIs(t, q.Add("late"), ErrDisposed)
	assert.ErrorIs(t, q.AddAll([]string{"late"}), ErrDisposed)

	// Second dispose is a no-op.
	require.NoError(t, q.Dispose(context.Background()))
}

func TestDisposeHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := New(Config{BatchSize: 1, MaxWaitTime: time.Millisecond},
		func(context.Context, []string) error { <-release; return nil })
	require.NoError(t, q.Add("stuck"))
	require.NoError(t, q.Add("behind"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Dispose(ctx), context.DeadlineExceeded)

	close(release)
	<-q.Done()
}

func TestFailedBatchesAreCounted(t *testing.T) {
	rec := &recorder{}
	q := New(Config{BatchSize: 2, MaxWaitTime: time.Millisecond},
		func(context.Context, []string) error { return errors.New("sink down") },
		WithMetrics[string](rec))

	require.NoError(t, q.AddAll([]string{"a", "b", "c"}))
	require.NoError(t, q.Dispose(context.Background()))

	st := q.Stats()
	assert.EqualValues(t, 3, st.Failed)
	assert.Zero(t, st.Processed)
	assert.Equal(t, 2, rec.errs)
}

func TestIntervalGrowsWithSlowProcessing(t *testing.T) {
	rec := &recorder{}
	cfg := Config{
		BatchSize:   10,
		MaxWaitTime: 2 * time.Millisecond,
		MinInterval: time.Millisecond,
		MaxInterval: 20 * time.Millisecond,
	}

	const cycles = 9
	var (
		q     *Queue[string]
		ready = make(chan struct{})
		calls int
	)
	q = New(cfg, func(context.Context, []string) error {
		<-ready
		time.Sleep(25 * time.Millisecond)
		calls++
		if calls < cycles {
			_ = q.Add("again")
		}
		return nil
	}, WithMetrics[string](rec))
	close(ready)

	require.NoError(t, q.Add("first"))
	require.Eventually(t, func() bool { return len(rec.intervalsSnapshot()) == cycles }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, q.Dispose(context.Background()))

	got := rec.intervalsSnapshot()
	prev := cfg.MaxWaitTime
	for _, d := range got {
		if prev < cfg.MaxInterval {
			assert.Greater(t, d, prev)
		}
		assert.LessOrEqual(t, d, cfg.MaxInterval)
		prev = d
	}
	assert.Equal(t, cfg.MaxInterval, got[len(got)-1])
}

func TestIntervalShrinksWithFastProcessing(t *testing.T) {
	rec := &recorder{}
	cfg := Config{
		BatchSize:   10,
		MaxWaitTime: 20 * time.Millisecond,
		MinInterval: 2 * time.Millisecond,
		MaxInterval: 50 * time.Millisecond,
	}

	const cycles = 15
	var (
		q     *Queue[string]
		ready = make(chan struct{})
		calls int
	)
	q = New(cfg, func(context.Context, []string) error {
		<-ready
		calls++
		if calls < cycles {
			_ = q.Add("again")
		}
		return nil
	}, WithMetrics[string](rec))
	close(ready)

	require.NoError(t, q.Add("first"))
	require.Eventually(t, func() bool { return len(rec.intervalsSnapshot()) == cycles }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, q.Dispose(context.Background()))

	got := rec.intervalsSnapshot()
	prev := cfg.MaxWaitTime
	for _, d := range got {
		if prev > cfg.MinInterval {
			assert.Less(t, d, prev)
		}
		assert.GreaterOrEqual(t, d, cfg.MinInterval)
		prev = d
	}
	assert.Equal(t, cfg.MinInterval, got[len(got)-1])
	assert.Equal(t, cfg.MinInterval, q.Interval())
}

func TestAdjustSkippedWhileBacklogged(t *testing.T) {
	q := &Queue[string]{cfg: Config{BatchSize: 10, MinInterval: time.Millisecond, MaxInterval: time.Second}, interval: 100 * time.Millisecond}
	q.items = make([]string, 5)

	q.adjust(time.Second)
	assert.Equal(t, 100*time.Millisecond, q.interval)

	q.items = q.items[:4]
	q.adjust(time.Second)
	assert.Equal(t, 150*time.Millisecond, q.interval)

	q.adjust(0)
	assert.Equal(t, 120*time.Millisecond, q.interval)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxWaitTime: 5 * time.Millisecond}
	cfg.applyDefaults()

	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Millisecond, cfg.MinInterval)
	assert.Equal(t, 3*time.Second, cfg.MaxInterval)
	assert.Equal(t, 5*time.Millisecond, cfg.MaxWaitTime)
}
