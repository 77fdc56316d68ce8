//go:build linux

package ringbuffer

import (
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Non-private futex operations, so waiters in another process sharing the
// mapping are woken too.
const (
	futexWait = 0
	futexWake = 1
)

func waitOn(addr *uint32, seen uint32, d time.Duration, _ int) {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	// EAGAIN (value already changed), EINTR and ETIMEDOUT all mean "re-check".
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWait, uintptr(seen),
		uintptr(unsafe.Pointer(&ts)), 0, 0)
}

func wakeAll(addr *uint32) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), futexWake, uintptr(math.MaxInt32),
		0, 0, 0)
}
