package ringbuffer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := New(capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{1, MinCapacity},
		{64, 64},
		{65, 128},
		{1000, 1024},
		{4096, 4096},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			q := newTestQueue(t, tt.in)
			assert.Equal(t, tt.want, q.Capacity())
		})
	}

	_, err := New(0)
	assert.Error(t, err)
	_, err = New(MaxCapacity + 1)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	q := newTestQueue(t, 256)

	records := [][]byte{
		[]byte("alpha"),
		{},
		[]byte("a somewhat longer record body"),
		bytes.Repeat([]byte{0xAB}, 100),
	}
	for _, r := range records {
		require.True(t, q.Push(r, 0))
	}

	got := q.Shift(1<<20, 0)
	require.Len(t, got, len(records))
	for i := range records {
		assert.Equal(t, records[i], got[i])
	}
	assert.True(t, q.IsEmpty())
}

func TestRoundTripAcrossWrap(t *testing.T) {
	q := newTestQueue(t, 64)

	// Each record occupies 4+20 bytes; repeated cycles force the frame
	// header and payload to straddle the end of the data region.
	for i := range 50 {
		rec := []byte(fmt.Sprintf("record-%013d", i))
		require.True(t, q.Push(rec, 0), "push %d", i)
		got := q.ShiftN(1, 0)
		require.Len(t, got, 1)
		assert.Equal(t, rec, got[0])
	}
}

func TestFullRejectionLeavesStateUnchanged(t *testing.T) {
	q := newTestQueue(t, 64)

	require.True(t, q.Push(make([]byte, 40), 0))
	before := q.Len()

	assert.False(t, q.Push(make([]byte, 30), 0))
	assert.False(t, q.Push(make([]byte, 30), 10*time.Millisecond))
	assert.Equal(t, before, q.Len())

	got := q.ShiftN(1, 0)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 40)
}

func TestOversizedRecordFailsFast(t *testing.T) {
	q := newTestQueue(t, 64)

	start := time.Now()
	assert.False(t, q.Push(make([]byte, 61), time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.False(t, q.Fits(61))
	assert.True(t, q.Fits(60))
	assert.True(t, q.Push(make([]byte, 60), 0))
	assert.True(t, q.IsFull())
}

func TestShiftRespectsLimits(t *testing.T) {
	q := newTestQueue(t, 256)
	for i := range 5 {
		require.True(t, q.Push(bytes.Repeat([]byte{byte(i)}, 10), 0))
	}

	got := q.Shift(25, 0)
	assert.Len(t, got, 2)

	got = q.ShiftN(2, 0)
	assert.Len(t, got, 2)

	// First record is returned even when it alone exceeds maxBytes.
	got = q.Shift(1, 0)
	require.Len(t, got, 1)
	assert.Equal(t, bytes.Repeat([]byte{4}, 10), got[0])
}

func TestShiftTimesOutOnEmpty(t *testing.T) {
	q := newTestQueue(t, 64)

	start := time.Now()
	assert.Nil(t, q.Shift(100, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Nil(t, q.ShiftN(0, 0))
}

func TestShiftWakesOnPush(t *testing.T) {
	q := newTestQueue(t, 64)

	done := make(chan [][]byte)
	go func() {
		done <- q.Shift(100, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.Push([]byte("late"), 0))

	select {
	case got := <-done:
		require.Len(t, got, 1)
		assert.Equal(t, []byte("late"), got[0])
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestPushWakesOnShift(t *testing.T) {
	q := newTestQueue(t, 64)
	require.True(t, q.Push(make([]byte, 50), 0))

	done := make(chan bool)
	go func() {
		done <- q.Push(make([]byte, 50), 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Len(t, q.ShiftN(1, 0), 1)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("producer was not woken")
	}
}

func TestConcurrentProducerConsumerPreservesOrder(t *testing.T) {
	q := newTestQueue(t, 256)
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			rec := []byte(fmt.Sprintf("%06d", i))
			for !q.Push(rec, 50*time.Millisecond) {
				runtime.Gosched()
			}
		}
	}()

	received := make([]string, 0, n)
	deadline := time.Now().Add(10 * time.Second)
	for len(received) < n && time.Now().Before(deadline) {
		for _, rec := range q.Shift(64, 50*time.Millisecond) {
			received = append(received, string(rec))
		}
	}
	wg.Wait()

	require.Len(t, received, n)
	for i, r := range received {
		assert.Equal(t, fmt.Sprintf("%06d", i), r)
	}
}

func TestCloseUnblocksAndRejects(t *testing.T) {
	q, err := New(64)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		q.Shift(10, 5*time.Second)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not release blocked consumer")
	}

	assert.False(t, q.Push([]byte("x"), 0))
	assert.Nil(t, q.Shift(10, 0))
	assert.True(t, q.IsEmpty())
	assert.NoError(t, q.Close())
}

func TestProbesRaceClose(t *testing.T) {
	for range 200 {
		q, err := New(64)
		require.NoError(t, err)
		require.True(t, q.Push([]byte("abc"), 0))

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_ = q.Len()
					_ = q.IsEmpty()
					_ = q.IsFull()
				}
			}()
		}

		require.NoError(t, q.Close())
		close(stop)
		wg.Wait()

		assert.Zero(t, q.Len())
		assert.True(t, q.IsEmpty())
		assert.False(t, q.IsFull())
	}
}

func TestFileBackedSegment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file-backed segments need shared mappings")
	}
	path := filepath.Join(t.TempDir(), "segment")

	producer, err := Create(path, 128)
	require.NoError(t, err)
	defer func() { _ = producer.Close() }()

	h := producer.Handle()
	assert.Equal(t, path, h.Path)
	assert.Equal(t, 128, h.Capacity)

	consumer, err := Attach(h)
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	require.True(t, producer.Push([]byte("shared"), 0))
	got := consumer.Shift(100, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("shared"), got[0])
	assert.True(t, producer.IsEmpty())

	_, err = Attach(Handle{Path: path, Capacity: 64})
	assert.ErrorIs(t, err, ErrCapacityMismatch)
	assert.ErrorIs(t, err, ErrInvalidSegment)

	// The advertised size is rounded the same way Create rounds it.
	rounded, err := Attach(Handle{Path: path, Capacity: 100})
	require.NoError(t, err)
	_ = rounded.Close()
}

func TestOpenRejectsForeignFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file-backed segments need shared mappings")
	}
	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, make([]byte, headerSize+128), 0o600))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidSegment)

	_, err = Attach(Handle{})
	assert.ErrorIs(t, err, ErrInvalidSegment)
}
