package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently so log lines can be aggregated and queried.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Run & Component
	// ========================================================================
	KeyRunID     = "run_id"    // One load/traversal run
	KeyRootID    = "root_id"   // Root object of the graph being loaded
	KeyComponent = "component" // loader, writebehind, server, ...
	KeyStage     = "stage"     // download, construction

	// ========================================================================
	// Objects
	// ========================================================================
	KeyBaseID    = "base_id"
	KeyCount     = "count"
	KeyTotal     = "total"
	KeyCurrent   = "current"
	KeyMissing   = "missing"
	KeyDropped   = "dropped"
	KeyEnqueued  = "enqueued"
	KeyBytes     = "bytes"
	KeyRecords   = "records"
	KeyMaxItems  = "max_items"
	KeyChildren  = "children"
	KeyPending   = "pending"
	KeyProps     = "props"
	KeyRefetched = "refetched"

	// ========================================================================
	// Queues & Batching
	// ========================================================================
	KeyBatchSize = "batch_size"
	KeyInterval  = "interval"
	KeyCapacity  = "capacity"
	KeySegment   = "segment"
	KeyTimeout   = "timeout"

	// ========================================================================
	// Cache
	// ========================================================================
	KeyCacheSize     = "cache_size"
	KeyCacheCapacity = "cache_capacity"
	KeyEvicted       = "evicted"
	KeyTTL           = "ttl"

	// ========================================================================
	// Storage & Transport
	// ========================================================================
	KeyStoreType  = "store_type"
	KeyTransport  = "transport"
	KeyURL        = "url"
	KeyBucket     = "bucket"
	KeyKey        = "key"
	KeyAttempt    = "attempt"
	KeyStatus     = "status"
	KeyAddress    = "address"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyRemoteAddr = "remote_addr"
	KeyRequestID  = "request_id"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// BaseID returns a slog.Attr for an object id
func BaseID(id string) slog.Attr {
	return slog.String(KeyBaseID, id)
}

// RootID returns a slog.Attr for the root object id
func RootID(id string) slog.Attr {
	return slog.String(KeyRootID, id)
}

// Stage returns a slog.Attr for a progress stage
func Stage(s string) slog.Attr {
	return slog.String(KeyStage, s)
}

// Count returns a slog.Attr for an item count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// BatchSize returns a slog.Attr for a batch size
func BatchSize(n int) slog.Attr {
	return slog.Int(KeyBatchSize, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
