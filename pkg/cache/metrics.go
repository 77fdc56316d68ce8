package cache

// Metrics provides observability for cache operations.
//
// Implementations are optional: a nil Metrics disables collection with no
// overhead beyond a nil check.
type Metrics interface {
	// ObserveHit records a Get that found a live entry.
	ObserveHit()

	// ObserveMiss records a Get that found nothing usable.
	ObserveMiss()

	// RecordEviction records one entry leaving the cache.
	RecordEviction(reason EvictionReason)

	// RecordSize records the resident size after a mutation.
	RecordSize(bytes int64, entries int)
}

func observeHit(m Metrics) {
	if m != nil {
		m.ObserveHit()
	}
}

func observeMiss(m Metrics) {
	if m != nil {
		m.ObserveMiss()
	}
}

func recordEviction(m Metrics, reason EvictionReason) {
	if m != nil {
		m.RecordEviction(reason)
	}
}

func recordSize(m Metrics, bytes int64, entries int) {
	if m != nil {
		m.RecordSize(bytes, entries)
	}
}
