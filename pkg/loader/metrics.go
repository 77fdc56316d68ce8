package loader

// Lookup outcomes reported to Metrics.
const (
	SourceCache    = "cache"    // already resolved
	SourceShared   = "shared"   // fetch already in flight
	SourceStore    = "store"    // served by the persistence sink
	SourceDownload = "download" // fetched through the downloader
)

// Metrics provides observability for the loader.
//
// A nil Metrics disables collection.
type Metrics interface {
	// ObserveRequest records one GetObject outcome: SourceCache or
	// SourceShared when the id was known, otherwise the source it was
	// eventually requested from.
	ObserveRequest(source string)

	// ObserveDelivered records n objects arriving from source.
	ObserveDelivered(source string, n int)

	// ObserveMissing records ids that no source could deliver.
	ObserveMissing(n int)

	// ObserveRefetch records an evicted id. requested is false when the
	// refetch was suppressed by configuration or the per-batch cap.
	ObserveRefetch(requested bool)
}

func observeRequest(m Metrics, source string) {
	if m != nil {
		m.ObserveRequest(source)
	}
}

func observeDelivered(m Metrics, source string, n int) {
	if m != nil && n > 0 {
		m.ObserveDelivered(source, n)
	}
}

func observeMissing(m Metrics, n int) {
	if m != nil && n > 0 {
		m.ObserveMissing(n)
	}
}

func observeRefetch(m Metrics, requested bool) {
	if m != nil {
		m.ObserveRefetch(requested)
	}
}
