// Package loader fetches the objects of one graph on demand.
//
// An ObjectLoader sits between the traverser and the object sources. Every
// request goes through a deferment.Manager so each id is fetched at most
// once. Unknown ids are looked up in batches against the persistence sink
// and the misses are downloaded in batches. Downloaded objects are resolved
// into the manager and handed to the write-behind writer.
package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/batching"
	"github.com/marmos91/objectloader/pkg/deferment"
	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/transport"
	"github.com/marmos91/objectloader/pkg/writebehind"
)

// ErrNoSource is returned by New when neither a downloader nor a store is
// configured.
var ErrNoSource = errors.New("loader: no downloader or store configured")

// Options wires an ObjectLoader.
type Options struct {
	// RootID names the root of the graph. Required.
	RootID string

	// Manager coordinates requests. Required. The loader owns it from now
	// on and disposes it.
	Manager *deferment.Manager

	// Downloader fetches objects the store does not have. When nil the
	// loader runs cache-only and unknown ids fail with
	// deferment.ErrNotFound.
	Downloader transport.Downloader

	// Store is consulted before downloading. Optional.
	Store store.Store

	// Writer persists downloaded objects asynchronously. Optional.
	Writer *writebehind.Writer

	// RunID labels log lines. A random id is used when empty.
	RunID string

	Config          Config
	Metrics         Metrics
	BatchingMetrics batching.Metrics
}

// Stats is a snapshot of loader counters.
type Stats struct {
	RunID      string
	Requested  uint64 // ids this loader had to fetch
	FromStore  uint64
	Downloaded uint64
	Missing    uint64
	Evicted    uint64
	Refetched  uint64
	Manager    deferment.Stats
	Reader     batching.Stats
	Download   batching.Stats
}

// ObjectLoader resolves objects by id for one root.
type ObjectLoader struct {
	rootID     string
	runID      string
	manager    *deferment.Manager
	downloader transport.Downloader
	sink       store.Store
	writer     *writebehind.Writer
	cfg        Config
	metrics    Metrics
	logCtx     *logger.LogContext

	reader    *batching.Queue[string]
	downloads *batching.Queue[string]

	rootMu sync.Mutex
	root   base.Base

	requested  atomic.Uint64
	fromStore  atomic.Uint64
	downloaded atomic.Uint64
	missing    atomic.Uint64
	evicted    atomic.Uint64
	refetched  atomic.Uint64

	disposeOnce sync.Once
	disposeErr  error
}

// New creates an ObjectLoader and starts its batching queues.
func New(opts Options) (*ObjectLoader, error) {
	if opts.RootID == "" {
		return nil, errors.New("loader: root id is required")
	}
	if opts.Manager == nil {
		return nil, errors.New("loader: deferment manager is required")
	}
	if opts.Downloader == nil && opts.Store == nil {
		return nil, ErrNoSource
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	opts.Config.applyDefaults()

	l := &ObjectLoader{
		rootID:     opts.RootID,
		runID:      opts.RunID,
		manager:    opts.Manager,
		downloader: opts.Downloader,
		sink:       opts.Store,
		writer:     opts.Writer,
		cfg:        opts.Config,
		metrics:    opts.Metrics,
		logCtx:     logger.NewLogContext(opts.RunID, opts.RootID).WithComponent("loader"),
	}

	if l.sink != nil {
		l.reader = batching.New(opts.Config.Reader, l.readBatch,
			batching.WithName[string]("loader.reader"),
			batching.WithMetrics[string](opts.BatchingMetrics),
			batching.WithKey(func(id string) string { return id }))
	}
	if l.downloader != nil {
		l.downloads = batching.New(opts.Config.Download, l.downloadBatch,
			batching.WithName[string]("loader.download"),
			batching.WithMetrics[string](opts.BatchingMetrics),
			batching.WithKey(func(id string) string { return id }))
	}
	return l, nil
}

// RunID returns the identifier attached to this loader's log lines.
func (l *ObjectLoader) RunID() string {
	return l.runID
}

// Context returns ctx annotated with this loader's run fields.
func (l *ObjectLoader) Context(ctx context.Context) context.Context {
	return logger.WithContext(ctx, l.logCtx)
}

// ============================================================================
// Root
// ============================================================================

// GetRootObject returns the root, consulting the store first and falling
// back to a single download.
func (l *ObjectLoader) GetRootObject(ctx context.Context) (base.Base, error) {
	l.rootMu.Lock()
	defer l.rootMu.Unlock()
	if l.root != nil {
		return l.root, nil
	}

	ctx, span := telemetry.StartSpan(l.Context(ctx), telemetry.SpanLoaderRoot)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.RootID(l.rootID))

	d, known, err := l.manager.Defer(l.rootID)
	if err != nil {
		return nil, err
	}
	if !known {
		l.requested.Add(1)
		l.fetchRoot(ctx)
	}

	root, err := d.Wait(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("root %s: %w", l.rootID, err)
	}
	l.root = root
	logger.InfoCtx(ctx, "Root object loaded", logger.KeyChildren, len(root.Closure()))
	return root, nil
}

// fetchRoot settles the root deferment from the store or the downloader.
func (l *ObjectLoader) fetchRoot(ctx context.Context) {
	if l.sink != nil {
		found, _, err := l.sink.GetMany(ctx, []string{l.rootID})
		if err != nil {
			logger.WarnCtx(ctx, "Store lookup for root failed", logger.KeyError, err)
		}
		if len(l.undefer(ctx, found)) > 0 {
			l.fromStore.Add(1)
			observeDelivered(l.metrics, SourceStore, 1)
			return
		}
	}

	if l.downloader == nil {
		l.reject(l.rootID, deferment.ErrNotFound)
		return
	}

	it, err := l.downloader.FetchSingle(ctx, l.rootID)
	if err != nil {
		l.reject(l.rootID, err)
		return
	}
	l.downloaded.Add(1)
	observeDelivered(l.metrics, SourceDownload, 1)
	if delivered := l.undefer(ctx, []base.Item{it}); len(delivered) > 0 {
		l.writeBehind(delivered)
	} else {
		l.reject(l.rootID, fmt.Errorf("%w: %s", transport.ErrNotFound, l.rootID))
	}
}

// TotalChildren returns the size of the root's closure.
func (l *ObjectLoader) TotalChildren(ctx context.Context) (int, error) {
	root, err := l.GetRootObject(ctx)
	if err != nil {
		return 0, err
	}
	return len(root.Closure()), nil
}

// ============================================================================
// Objects
// ============================================================================

// GetObject returns the object for id, requesting it when no one else has.
func (l *ObjectLoader) GetObject(ctx context.Context, id string) (base.Base, error) {
	d, err := l.deferAndRequest(id)
	if err != nil {
		return nil, err
	}
	return d.Wait(ctx)
}

// Objects yields the root followed by every object in its closure. All
// closure ids are requested up front so they travel in full batches.
func (l *ObjectLoader) Objects(ctx context.Context) iter.Seq2[base.Base, error] {
	return func(yield func(base.Base, error) bool) {
		root, err := l.GetRootObject(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(root, nil) {
			return
		}

		ids := root.ClosureIDs()
		cells := make([]*deferment.DeferredBase, 0, len(ids))
		for _, id := range ids {
			d, err := l.deferAndRequest(id)
			if err != nil {
				yield(nil, err)
				return
			}
			cells = append(cells, d)
		}

		for _, d := range cells {
			b, err := d.Wait(ctx)
			if err != nil {
				yield(nil, fmt.Errorf("object %s: %w", d.ID(), err))
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (l *ObjectLoader) deferAndRequest(id string) (*deferment.DeferredBase, error) {
	d, known, err := l.manager.Defer(id)
	if err != nil {
		return nil, err
	}
	if known {
		select {
		case <-d.Done():
			observeRequest(l.metrics, SourceCache)
		default:
			observeRequest(l.metrics, SourceShared)
		}
		return d, nil
	}
	l.requested.Add(1)
	l.request(id)
	return d, nil
}

// request routes an id whose deferment this loader created.
func (l *ObjectLoader) request(id string) {
	var err error
	switch {
	case l.reader != nil:
		observeRequest(l.metrics, SourceStore)
		err = l.reader.Add(id)
	case l.downloads != nil:
		observeRequest(l.metrics, SourceDownload)
		err = l.downloads.Add(id)
	}
	if err != nil {
		l.reject(id, err)
	}
}

// readBatch looks ids up in the store and forwards the misses.
func (l *ObjectLoader) readBatch(ctx context.Context, ids []string) error {
	ctx, span := telemetry.StartStoreSpan(l.Context(ctx), telemetry.SpanLoaderReadBatch, l.sink.Type(), len(ids))
	defer span.End()

	found, missing, err := l.sink.GetMany(ctx, ids)
	if err != nil {
		// A broken sink degrades to downloading everything.
		logger.WarnCtx(ctx, "Store lookup failed",
			logger.KeyStoreType, l.sink.Type(),
			logger.KeyCount, len(ids),
			logger.KeyError, err)
		telemetry.RecordError(ctx, err)
		found, missing = nil, ids
	}
	telemetry.SetAttributes(ctx, telemetry.Found(len(found)), telemetry.Missing(len(missing)))

	delivered := l.undefer(ctx, found)
	l.fromStore.Add(uint64(len(delivered)))
	observeDelivered(l.metrics, SourceStore, len(delivered))
	missing = append(missing, absent(found, delivered)...)

	if len(missing) == 0 {
		return nil
	}
	if l.downloads == nil {
		l.rejectAll(ctx, missing, deferment.ErrNotFound)
		return nil
	}
	if err := l.downloads.AddAll(missing); err != nil {
		l.rejectAll(ctx, missing, err)
	}
	return nil
}

// downloadBatch fetches ids and settles every one of them.
func (l *ObjectLoader) downloadBatch(ctx context.Context, ids []string) error {
	ctx, span := telemetry.StartSpan(l.Context(ctx), telemetry.SpanLoaderDownload)
	defer span.End()
	telemetry.SetAttributes(ctx,
		telemetry.Transport(l.downloader.Name()),
		telemetry.BatchSize(len(ids)))

	start := time.Now()
	items, err := l.downloader.FetchBatch(ctx, ids)
	if err != nil {
		telemetry.RecordError(ctx, err)
		l.rejectAll(ctx, ids, err)
		return fmt.Errorf("download %d objects: %w", len(ids), err)
	}

	delivered := l.undefer(ctx, items)
	l.downloaded.Add(uint64(len(delivered)))
	observeDelivered(l.metrics, SourceDownload, len(delivered))
	l.writeBehind(delivered)

	got := make(map[string]struct{}, len(delivered))
	for _, it := range delivered {
		got[it.BaseID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := got[id]; !ok {
			missing = append(missing, id)
		}
	}
	telemetry.SetAttributes(ctx, telemetry.Found(len(delivered)), telemetry.Missing(len(missing)))
	for _, id := range missing {
		l.reject(id, fmt.Errorf("%w: %s", transport.ErrNotFound, id))
	}

	logger.DebugCtx(ctx, "Downloaded batch",
		logger.KeyTransport, l.downloader.Name(),
		logger.KeyBatchSize, len(ids),
		logger.KeyCount, len(delivered),
		logger.KeyMissing, len(missing),
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// undefer resolves items into the manager and returns the ones accepted.
func (l *ObjectLoader) undefer(ctx context.Context, items []base.Item) []base.Item {
	if len(items) == 0 {
		return nil
	}
	refetch := l.refetcher()
	accepted := make([]base.Item, 0, len(items))
	for _, it := range items {
		if err := l.manager.Undefer(it, refetch); err != nil {
			logger.WarnCtx(ctx, "Dropping object", logger.KeyBaseID, it.BaseID, logger.KeyError, err)
			continue
		}
		accepted = append(accepted, it)
	}
	return accepted
}

// refetcher returns the eviction callback for one undefer batch. At most
// MaxRefetchPerBatch evicted ids are requested again.
func (l *ObjectLoader) refetcher() func(id string) {
	budget := l.cfg.MaxRefetchPerBatch
	return func(id string) {
		l.evicted.Add(1)
		if !l.cfg.RefetchEvicted || budget <= 0 {
			observeRefetch(l.metrics, false)
			return
		}
		budget--
		if _, known, err := l.manager.Defer(id); err != nil || known {
			observeRefetch(l.metrics, false)
			return
		}
		l.refetched.Add(1)
		observeRefetch(l.metrics, true)
		l.request(id)
	}
}

func (l *ObjectLoader) writeBehind(items []base.Item) {
	if l.writer == nil || len(items) == 0 {
		return
	}
	l.writer.Write(items)
}

func (l *ObjectLoader) reject(id string, err error) {
	if l.manager.Reject(id, err) {
		l.missing.Add(1)
		observeMissing(l.metrics, 1)
	}
}

func (l *ObjectLoader) rejectAll(ctx context.Context, ids []string, err error) {
	logger.WarnCtx(ctx, "Rejecting unresolved objects",
		logger.KeyCount, len(ids), logger.KeyError, err)
	for _, id := range ids {
		l.reject(id, err)
	}
}

// absent returns the ids of items that are not in accepted.
func absent(items, accepted []base.Item) []string {
	if len(items) == len(accepted) {
		return nil
	}
	ok := make(map[string]struct{}, len(accepted))
	for _, it := range accepted {
		ok[it.BaseID] = struct{}{}
	}
	var out []string
	for _, it := range items {
		if _, hit := ok[it.BaseID]; !hit {
			out = append(out, it.BaseID)
		}
	}
	return out
}

// ============================================================================
// Lifecycle
// ============================================================================

// Stats returns a snapshot of loader counters.
func (l *ObjectLoader) Stats() Stats {
	st := Stats{
		RunID:      l.runID,
		Requested:  l.requested.Load(),
		FromStore:  l.fromStore.Load(),
		Downloaded: l.downloaded.Load(),
		Missing:    l.missing.Load(),
		Evicted:    l.evicted.Load(),
		Refetched:  l.refetched.Load(),
		Manager:    l.manager.Stats(),
	}
	if l.reader != nil {
		st.Reader = l.reader.Stats()
	}
	if l.downloads != nil {
		st.Download = l.downloads.Stats()
	}
	return st
}

// Dispose drains the batching queues and disposes the manager, which
// rejects anything still outstanding. It is idempotent.
func (l *ObjectLoader) Dispose(ctx context.Context) error {
	l.disposeOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.cfg.DisposeTimeout)
			defer cancel()
		}

		var errs []error
		// The reader feeds the downloads queue, so it goes first.
		if l.reader != nil {
			errs = append(errs, l.reader.Dispose(ctx))
		}
		if l.downloads != nil {
			errs = append(errs, l.downloads.Dispose(ctx))
		}
		l.manager.Dispose()
		l.disposeErr = errors.Join(errs...)

		st := l.Stats()
		logger.InfoCtx(l.Context(ctx), "Loader disposed",
			logger.KeyRecords, st.Requested,
			logger.KeyMissing, st.Missing,
			logger.KeyRefetched, st.Refetched)
	})
	return l.disposeErr
}
