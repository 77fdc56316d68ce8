// Package ringbuffer implements a fixed-capacity, single-producer /
// single-consumer byte record queue over a shared memory segment.
//
// The segment is either an anonymous shared mapping (both sides in one
// process) or a file-backed mapping that a second process attaches to with
// Open. Its layout is:
//
//	+--------------------+ 0
//	| magic    uint32    |
//	| version  uint32    |
//	| capacity uint32    | data region size, power of two
//	| reserved uint32    |
//	| write    uint32    | monotonically increasing byte counter
//	| read     uint32    | monotonically increasing byte counter
//	| wwaiters uint32    | consumers blocked on write
//	| rwaiters uint32    | producers blocked on read
//	+--------------------+ 64
//	| data [capacity]    |
//	+--------------------+
//
// Indices wrap modulo 2^32; occupancy is always write-read and the physical
// offset is index&(capacity-1). Records are framed with a 4-byte little-endian
// length and may wrap around the end of the data region. The write index is
// published only after the whole record is copied, so the consumer never sees
// a partial record.
//
// Full and empty conditions are reported as false / nil results, never as
// errors. Blocking waits use a futex on the shared index words on Linux and a
// bounded poll elsewhere.
package ringbuffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	headerSize  = 64
	frameHeader = 4

	segmentMagic   uint32 = 0x4f4c5242 // "OLRB"
	segmentVersion uint32 = 1

	offMagic    = 0
	offVersion  = 4
	offCapacity = 8
	offWrite    = 16
	offRead     = 20
	offWWaiters = 24
	offRWaiters = 28

	// MinCapacity is the smallest data region a segment can have.
	MinCapacity = 64
	// MaxCapacity keeps occupancy unambiguous with 32-bit wrapping indices.
	MaxCapacity = 1 << 30

	// maxWaitSlice bounds a single blocking wait so Close is observed promptly.
	maxWaitSlice = 50 * time.Millisecond
)

var (
	// ErrClosed is returned when attaching to or using a closed queue.
	ErrClosed = errors.New("ringbuffer: closed")

	// ErrInvalidSegment is returned when a segment header does not describe
	// a ring buffer this package can attach to.
	ErrInvalidSegment = errors.New("ringbuffer: invalid segment")

	// ErrCapacityMismatch is returned by Attach when the segment is not the
	// size its handle advertises.
	ErrCapacityMismatch = fmt.Errorf("%w: capacity mismatch", ErrInvalidSegment)

	// ErrUnsupported is returned for file-backed segments on platforms
	// without shared memory mappings.
	ErrUnsupported = errors.New("ringbuffer: shared segments not supported on this platform")
)

// Handle identifies a segment so the other side can attach to it.
type Handle struct {
	Path     string `json:"path"`
	Capacity int    `json:"capacity"`
}

// Queue is one side's view of a ring buffer segment. A Queue is safe for
// concurrent use: producers serialize on one mutex and consumers on another,
// so each process behaves as a single producer or single consumer.
type Queue struct {
	mem  []byte
	data []byte

	capacity uint32
	mask     uint32

	write    *uint32
	read     *uint32
	wWaiters *uint32
	rWaiters *uint32

	path  string
	owner bool

	pushMu  sync.Mutex
	shiftMu sync.Mutex
	closeMu sync.Mutex
	closed  atomic.Bool

	// probeMu keeps the mapping alive under the occupancy probes, which take
	// neither pushMu nor shiftMu.
	probeMu sync.RWMutex
}

// New allocates an anonymous shared segment with at least capacity bytes of
// data region. The returned queue is usable from any goroutine in this
// process.
func New(capacity int) (*Queue, error) {
	c, err := normalizeCapacity(capacity)
	if err != nil {
		return nil, err
	}
	mem, err := mapAnon(headerSize + int(c))
	if err != nil {
		return nil, fmt.Errorf("map anonymous segment: %w", err)
	}
	q := newQueue(mem, "", true)
	q.initHeader(c)
	return q, nil
}

// Create allocates a file-backed segment at path. Another process can attach
// with Open(path). The file is removed when the creating queue is closed.
func Create(path string, capacity int) (*Queue, error) {
	c, err := normalizeCapacity(capacity)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}
	defer func() { _ = f.Close() }()

	size := headerSize + int(c)
	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("size segment file: %w", err)
	}

	mem, err := mapFile(f, size)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("map segment file: %w", err)
	}

	q := newQueue(mem, path, true)
	q.initHeader(c)
	return q, nil
}

// Open attaches to a segment previously created with Create.
func Open(path string) (*Queue, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < headerSize+MinCapacity || size > headerSize+MaxCapacity {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidSegment, size)
	}

	mem, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("map segment file: %w", err)
	}

	if err := validateHeader(mem); err != nil {
		_ = unmap(mem)
		return nil, err
	}
	return newQueue(mem, path, false), nil
}

// Attach opens the segment described by h and checks that its capacity
// matches what the creator advertised.
func Attach(h Handle) (*Queue, error) {
	if h.Path == "" {
		return nil, fmt.Errorf("%w: anonymous segments cannot be attached", ErrInvalidSegment)
	}
	want, err := normalizeCapacity(h.Capacity)
	if err != nil {
		return nil, err
	}
	q, err := Open(h.Path)
	if err != nil {
		return nil, err
	}
	if q.Capacity() != int(want) {
		_ = q.Close()
		return nil, fmt.Errorf("%w: segment has %d, handle says %d", ErrCapacityMismatch, q.Capacity(), h.Capacity)
	}
	return q, nil
}

func newQueue(mem []byte, path string, owner bool) *Queue {
	q := &Queue{
		mem:      mem,
		path:     path,
		owner:    owner,
		write:    word(mem, offWrite),
		read:     word(mem, offRead),
		wWaiters: word(mem, offWWaiters),
		rWaiters: word(mem, offRWaiters),
	}
	c := binary.LittleEndian.Uint32(mem[offCapacity:])
	if c == 0 {
		c = uint32(len(mem) - headerSize)
	}
	q.capacity = c
	q.mask = c - 1
	q.data = mem[headerSize : headerSize+int(c)]
	return q
}

func (q *Queue) initHeader(capacity uint32) {
	binary.LittleEndian.PutUint32(q.mem[offVersion:], segmentVersion)
	binary.LittleEndian.PutUint32(q.mem[offCapacity:], capacity)
	atomic.StoreUint32(q.write, 0)
	atomic.StoreUint32(q.read, 0)
	atomic.StoreUint32(q.wWaiters, 0)
	atomic.StoreUint32(q.rWaiters, 0)
	// Magic last: a concurrent Open never sees a half-initialised header.
	atomic.StoreUint32(word(q.mem, offMagic), segmentMagic)
	q.capacity = capacity
	q.mask = capacity - 1
	q.data = q.mem[headerSize : headerSize+int(capacity)]
}

func validateHeader(mem []byte) error {
	if m := atomic.LoadUint32(word(mem, offMagic)); m != segmentMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrInvalidSegment, m)
	}
	if v := binary.LittleEndian.Uint32(mem[offVersion:]); v != segmentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidSegment, v)
	}
	c := binary.LittleEndian.Uint32(mem[offCapacity:])
	if c < MinCapacity || c > MaxCapacity || c&(c-1) != 0 {
		return fmt.Errorf("%w: capacity %d", ErrInvalidSegment, c)
	}
	if int(c)+headerSize != len(mem) {
		return fmt.Errorf("%w: capacity %d does not match segment size %d", ErrInvalidSegment, c, len(mem))
	}
	return nil
}

// normalizeCapacity rounds up to the next power of two within bounds.
func normalizeCapacity(capacity int) (uint32, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("ringbuffer: capacity must be positive, got %d", capacity)
	}
	if capacity > MaxCapacity {
		return 0, fmt.Errorf("ringbuffer: capacity %d exceeds maximum %d", capacity, MaxCapacity)
	}
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return uint32(1) << bits.Len32(uint32(capacity-1)), nil
}

func word(mem []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// Handle returns the descriptor the other side needs to attach.
func (q *Queue) Handle() Handle {
	return Handle{Path: q.path, Capacity: int(q.capacity)}
}

// Capacity returns the size of the data region in bytes.
func (q *Queue) Capacity() int {
	return int(q.capacity)
}

// Len returns the number of bytes (including framing) currently queued.
func (q *Queue) Len() int {
	q.probeMu.RLock()
	defer q.probeMu.RUnlock()
	if q.closed.Load() {
		return 0
	}
	return int(atomic.LoadUint32(q.write) - atomic.LoadUint32(q.read))
}

// Closed reports whether Close has been called on this side.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// IsEmpty reports whether no record is queued.
func (q *Queue) IsEmpty() bool {
	q.probeMu.RLock()
	defer q.probeMu.RUnlock()
	if q.closed.Load() {
		return true
	}
	return atomic.LoadUint32(q.write) == atomic.LoadUint32(q.read)
}

// IsFull reports whether not even an empty record would fit.
func (q *Queue) IsFull() bool {
	q.probeMu.RLock()
	defer q.probeMu.RUnlock()
	if q.closed.Load() {
		return false
	}
	return q.free() < frameHeader
}

// free must be called with probeMu held.
func (q *Queue) free() uint32 {
	return q.capacity - (atomic.LoadUint32(q.write) - atomic.LoadUint32(q.read))
}

// Fits reports whether a record of n bytes can ever be pushed.
func (q *Queue) Fits(n int) bool {
	return n >= 0 && uint64(n)+frameHeader <= uint64(q.capacity)
}

// Push appends one record, waiting up to timeout for space. It returns false
// without modifying the buffer when the record does not fit in time, when it
// can never fit, or when the queue is closed.
func (q *Queue) Push(rec []byte, timeout time.Duration) bool {
	if !q.Fits(len(rec)) || q.closed.Load() {
		return false
	}
	need := uint32(len(rec) + frameHeader)

	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		if q.closed.Load() {
			return false
		}
		r := atomic.LoadUint32(q.read)
		w := atomic.LoadUint32(q.write)
		if q.capacity-(w-r) >= need {
			var frame [frameHeader]byte
			binary.LittleEndian.PutUint32(frame[:], uint32(len(rec)))
			q.copyIn(w, frame[:])
			q.copyIn(w+frameHeader, rec)
			atomic.StoreUint32(q.write, w+need)
			q.notify(q.write, q.wWaiters)
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		q.wait(q.read, r, q.rWaiters, remaining, attempt)
	}
}

// Shift removes whole records totalling at most maxBytes of payload, waiting
// up to timeout for the first record. At least one record is returned when
// any is available, even if it alone exceeds maxBytes. It returns nil on
// timeout.
func (q *Queue) Shift(maxBytes int, timeout time.Duration) [][]byte {
	return q.shift(math.MaxInt, maxBytes, timeout)
}

// ShiftN removes at most n records, waiting up to timeout for the first one.
func (q *Queue) ShiftN(n int, timeout time.Duration) [][]byte {
	if n <= 0 {
		return nil
	}
	return q.shift(n, math.MaxInt, timeout)
}

func (q *Queue) shift(maxRecords, maxBytes int, timeout time.Duration) [][]byte {
	if q.closed.Load() {
		return nil
	}

	q.shiftMu.Lock()
	defer q.shiftMu.Unlock()

	deadline := time.Now().Add(timeout)
	var r, w uint32
	for attempt := 0; ; attempt++ {
		if q.closed.Load() {
			return nil
		}
		r = atomic.LoadUint32(q.read)
		w = atomic.LoadUint32(q.write)
		if w != r {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		q.wait(q.write, w, q.wWaiters, remaining, attempt)
	}

	var (
		out   [][]byte
		total int
		frame [frameHeader]byte
	)
	for r != w && len(out) < maxRecords {
		q.copyOut(r, frame[:])
		n := binary.LittleEndian.Uint32(frame[:])
		if uint64(n)+frameHeader > uint64(w-r) {
			// A length that runs past the published write index can only
			// come from a foreign writer. Drop everything queued so the
			// stream can resynchronise.
			r = w
			break
		}
		if len(out) > 0 && total+int(n) > maxBytes {
			break
		}
		rec := make([]byte, n)
		q.copyOut(r+frameHeader, rec)
		out = append(out, rec)
		total += int(n)
		r += frameHeader + n
	}

	atomic.StoreUint32(q.read, r)
	q.notify(q.read, q.rWaiters)
	return out
}

// copyIn writes src at logical position pos, wrapping at the end.
func (q *Queue) copyIn(pos uint32, src []byte) {
	p := pos & q.mask
	n := copy(q.data[p:], src)
	if n < len(src) {
		copy(q.data, src[n:])
	}
}

// copyOut reads len(dst) bytes at logical position pos, wrapping at the end.
func (q *Queue) copyOut(pos uint32, dst []byte) {
	p := pos & q.mask
	n := copy(dst, q.data[p:])
	if n < len(dst) {
		copy(dst[n:], q.data)
	}
}

// wait blocks until *addr differs from seen, the slice expires, or a notify.
func (q *Queue) wait(addr *uint32, seen uint32, waiters *uint32, remaining time.Duration, attempt int) {
	atomic.AddUint32(waiters, 1)
	waitOn(addr, seen, min(remaining, maxWaitSlice), attempt)
	atomic.AddUint32(waiters, ^uint32(0))
}

func (q *Queue) notify(addr *uint32, waiters *uint32) {
	if atomic.LoadUint32(waiters) > 0 {
		wakeAll(addr)
	}
}

// Close unmaps the segment. Blocked Push and Shift calls return promptly.
// The creator of a file-backed segment also removes the file; processes that
// already attached keep their mapping.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()

	if q.closed.Swap(true) {
		return nil
	}
	wakeAll(q.write)
	wakeAll(q.read)

	// Wait for in-flight operations before the memory goes away.
	q.pushMu.Lock()
	q.shiftMu.Lock()
	q.probeMu.Lock()
	defer q.pushMu.Unlock()
	defer q.shiftMu.Unlock()
	defer q.probeMu.Unlock()

	err := unmap(q.mem)
	if q.owner && q.path != "" {
		if rmErr := os.Remove(q.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}
