//go:build !linux

package ringbuffer

import (
	"sync/atomic"
	"time"
)

const (
	pollMin = 50 * time.Microsecond
	pollMax = 2 * time.Millisecond
)

// waitOn polls addr with exponential backoff until it changes or d elapses.
func waitOn(addr *uint32, seen uint32, d time.Duration, attempt int) {
	deadline := time.Now().Add(d)
	step := pollMin << min(attempt, 6)
	for atomic.LoadUint32(addr) == seen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		time.Sleep(min(step, pollMax, remaining))
		step *= 2
	}
}

func wakeAll(*uint32) {}
