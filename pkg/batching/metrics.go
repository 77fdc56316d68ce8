package batching

import "time"

// Metrics provides observability for batching queues. A nil Metrics disables
// collection.
type Metrics interface {
	// ObserveBatch records one ProcessFunc call.
	ObserveBatch(queue string, size int, duration time.Duration, err error)

	// RecordInterval records the interval after an adjustment.
	RecordInterval(queue string, interval time.Duration)
}

func observeBatch(m Metrics, queue string, size int, d time.Duration, err error) {
	if m != nil {
		m.ObserveBatch(queue, size, d, err)
	}
}

func recordInterval(m Metrics, queue string, interval time.Duration) {
	if m != nil {
		m.RecordInterval(queue, interval)
	}
}
