package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrRootID    = "objectloader.root_id"
	AttrBaseID    = "objectloader.base_id"
	AttrStage     = "objectloader.stage"
	AttrBatchSize = "objectloader.batch_size"
	AttrFound     = "objectloader.found"
	AttrMissing   = "objectloader.missing"
	AttrChildren  = "objectloader.children"

	AttrQueue     = "queue.name"
	AttrTransport = "transport.name"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
)

// Span names.
const (
	SpanTraverserConstruct = "traverser.construct"
	SpanLoaderRoot         = "loader.get_root"
	SpanLoaderReadBatch    = "loader.read_batch"
	SpanLoaderDownload     = "loader.download_batch"
	SpanWriteBehindFlush   = "writebehind.flush"
	SpanStoreGetMany       = "store.get_many"
	SpanStorePutMany       = "store.put_many"
)

func RootID(id string) attribute.KeyValue    { return attribute.String(AttrRootID, id) }
func BaseID(id string) attribute.KeyValue    { return attribute.String(AttrBaseID, id) }
func Stage(s string) attribute.KeyValue      { return attribute.String(AttrStage, s) }
func BatchSize(n int) attribute.KeyValue     { return attribute.Int(AttrBatchSize, n) }
func Found(n int) attribute.KeyValue         { return attribute.Int(AttrFound, n) }
func Missing(n int) attribute.KeyValue       { return attribute.Int(AttrMissing, n) }
func Children(n int) attribute.KeyValue      { return attribute.Int(AttrChildren, n) }
func Queue(name string) attribute.KeyValue   { return attribute.String(AttrQueue, name) }
func Transport(t string) attribute.KeyValue  { return attribute.String(AttrTransport, t) }
func StoreType(t string) attribute.KeyValue  { return attribute.String(AttrStoreType, t) }
func Bucket(name string) attribute.KeyValue  { return attribute.String(AttrBucket, name) }
func StorageKey(k string) attribute.KeyValue { return attribute.String(AttrKey, k) }

// StartStoreSpan starts a span for a persistence sink operation.
func StartStoreSpan(ctx context.Context, name, storeType string, n int) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(StoreType(storeType), BatchSize(n)))
}
