// Package traverser reconstructs the object graph reachable from a root.
//
// Each Base is walked structurally. Closure ids, a referenceId, chunk data and
// every property holding a Base or an array of Bases are resolved
// concurrently through the Loader. Reference stubs are replaced by the
// constructed object they point at, and arrays made only of chunk containers
// are flattened back into one array.
//
// Every id is constructed at most once per run. Content ids are hashes of the
// content they name, so a well-formed graph has no cycles; an id that shows up
// again beneath itself is returned unexpanded instead of recursing forever.
package traverser

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
)

// ErrAlreadyRun is returned when GetAndConstructObject is called twice.
var ErrAlreadyRun = errors.New("traverser: already run")

// Progress stages.
const (
	StageDownload     = "download"
	StageConstruction = "construction"
)

// Progress is one progress report. Current never decreases within a stage
// and never exceeds Total.
type Progress struct {
	Stage   string
	Current int
	Total   int
}

// ProgressFunc receives progress reports. Calls are serialized.
type ProgressFunc func(Progress)

// Loader resolves objects by id.
type Loader interface {
	GetRootObject(ctx context.Context) (base.Base, error)
	GetObject(ctx context.Context, id string) (base.Base, error)
}

// ObjectIterator is implemented by loaders that can stream the root and its
// whole closure up front. When available the traverser drains it first and
// reports the download stage.
type ObjectIterator interface {
	Objects(ctx context.Context) iter.Seq2[base.Base, error]
}

// Options configures a Traverser.
type Options struct {
	// ExcludeProps are stripped from every Base before it is walked.
	ExcludeProps []string

	// MaxFanOut bounds concurrent child resolutions per node. Zero means
	// unbounded.
	MaxFanOut int
}

// Traverser walks one graph once.
type Traverser struct {
	loader Loader
	opts   Options
	ran    atomic.Bool

	mu    sync.Mutex
	nodes map[string]*node

	progressMu sync.Mutex
	onProgress ProgressFunc
	current    int
	total      int
}

// node memoizes the construction of one id.
type node struct {
	done   chan struct{}
	result base.Base
	err    error
}

// ancestors is the chain of ids above the node being walked.
type ancestors struct {
	id     string
	parent *ancestors
}

func (a *ancestors) contains(id string) bool {
	for p := a; p != nil; p = p.parent {
		if p.id == id {
			return true
		}
	}
	return false
}

// New creates a Traverser over loader.
func New(loader Loader, opts Options) *Traverser {
	return &Traverser{
		loader: loader,
		opts:   opts,
		nodes:  make(map[string]*node),
	}
}

// GetAndConstructObject resolves the root and everything it reaches and
// returns the constructed root. Any child that cannot be resolved fails the
// whole call. A Traverser can only run once.
func (t *Traverser) GetAndConstructObject(ctx context.Context, onProgress ProgressFunc) (base.Base, error) {
	if !t.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	t.onProgress = onProgress
	start := time.Now()

	root, err := t.root(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTraverserConstruct)
	defer span.End()

	t.total = len(root.Closure())
	telemetry.SetAttributes(ctx, telemetry.RootID(root.ID()), telemetry.Children(t.total))

	result, err := t.resolve(ctx, root.ID(), func(context.Context) (base.Base, error) { return root, nil }, true, nil)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	logger.DebugCtx(ctx, "Object constructed",
		logger.KeyRootID, root.ID(),
		logger.KeyChildren, t.total,
		logger.KeyDurationMs, logger.Duration(start))
	return result, nil
}

// root obtains the root Base, draining the loader's object stream first when
// it has one.
func (t *Traverser) root(ctx context.Context) (base.Base, error) {
	it, ok := t.loader.(ObjectIterator)
	if !ok {
		root, err := t.loader.GetRootObject(ctx)
		if err != nil {
			return nil, fmt.Errorf("get root object: %w", err)
		}
		return root, nil
	}

	var (
		root       base.Base
		downloaded int
		total      int
	)
	for b, err := range it.Objects(ctx) {
		if err != nil {
			return nil, fmt.Errorf("download objects: %w", err)
		}
		if root == nil {
			root = b
			total = len(root.Closure())
			continue
		}
		downloaded++
		t.emit(Progress{Stage: StageDownload, Current: min(downloaded, total), Total: total})
	}
	if root == nil {
		return nil, errors.New("download objects: loader yielded no root")
	}
	return root, nil
}

// resolve constructs id once per run. fetch obtains the raw Base. Only
// counted nodes advance construction progress; inline objects do not.
func (t *Traverser) resolve(ctx context.Context, id string, fetch func(context.Context) (base.Base, error), counted bool, path *ancestors) (base.Base, error) {
	if path.contains(id) {
		b, err := fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", id, err)
		}
		return b, nil
	}

	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok {
		n = &node{done: make(chan struct{})}
		t.nodes[id] = n
	}
	t.mu.Unlock()

	if ok {
		select {
		case <-n.done:
			return n.result, n.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	defer close(n.done)

	raw, err := fetch(ctx)
	if err != nil {
		n.err = fmt.Errorf("resolve %s: %w", id, err)
		return nil, n.err
	}

	n.result, n.err = t.construct(ctx, raw, &ancestors{id: id, parent: path})
	if n.err == nil && counted {
		t.advance()
	}
	return n.result, n.err
}

func (t *Traverser) resolveID(ctx context.Context, id string, path *ancestors) (base.Base, error) {
	return t.resolve(ctx, id, func(ctx context.Context) (base.Base, error) {
		return t.loader.GetObject(ctx, id)
	}, true, path)
}

// construct walks one Base and returns a copy with every edge resolved.
func (t *Traverser) construct(ctx context.Context, raw base.Base, path *ancestors) (base.Base, error) {
	b := ownCopy(raw, t.opts.ExcludeProps)

	g, gctx := errgroup.WithContext(ctx)
	if t.opts.MaxFanOut > 0 {
		g.SetLimit(t.opts.MaxFanOut)
	}

	for _, id := range b.ClosureIDs() {
		g.Go(func() error {
			_, err := t.resolveID(gctx, id, path)
			return err
		})
	}

	if ref, ok := b.ReferenceID(); ok {
		g.Go(func() error {
			_, err := t.resolveID(gctx, ref, path)
			return err
		})
	}

	// Results are written into distinct slots and assigned after Wait.
	props := make(map[string]*any)
	for key, v := range b {
		switch key {
		case base.FieldID, base.FieldClosure, base.FieldReferenceID:
			continue
		}
		val := base.Classify(v)
		switch val.Kind {
		case base.KindBase, base.KindReference:
		case base.KindArray:
			if !base.ContainsBase(val.Array) {
				continue
			}
		default:
			continue
		}
		slot := new(any)
		props[key] = slot
		g.Go(func() error {
			out, err := t.constructValue(gctx, val, path)
			if err != nil {
				return err
			}
			*slot = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for key, slot := range props {
		b[key] = *slot
	}
	return b, nil
}

// ownCopy returns a copy of raw without the excluded properties. It copies
// raw exactly once.
func ownCopy(raw base.Base, exclude []string) base.Base {
	b := raw.Without(exclude...)
	if len(b) == len(raw) {
		// Nothing was stripped, so Without returned raw itself.
		return raw.Clone()
	}
	return b
}

// constructValue resolves a property value classified as an edge.
func (t *Traverser) constructValue(ctx context.Context, v base.Value, path *ancestors) (any, error) {
	switch v.Kind {
	case base.KindReference:
		return t.resolveID(ctx, v.Ref, path)
	case base.KindBase:
		// Inline objects are already complete; only their own edges need
		// resolving.
		inline := v.Base
		return t.resolve(ctx, inline.ID(), func(context.Context) (base.Base, error) { return inline, nil }, false, path)
	case base.KindArray:
		return t.constructArray(ctx, v.Array, path)
	}
	return v.Raw, nil
}

// constructArray resolves every edge element of arr. An array whose elements
// all resolve to chunk containers is replaced by their concatenated data.
func (t *Traverser) constructArray(ctx context.Context, arr []any, path *ancestors) ([]any, error) {
	out := make([]any, len(arr))
	copy(out, arr)

	g, gctx := errgroup.WithContext(ctx)
	if t.opts.MaxFanOut > 0 {
		g.SetLimit(t.opts.MaxFanOut)
	}
	for i, e := range arr {
		val := base.Classify(e)
		if val.Kind != base.KindBase && val.Kind != base.KindReference {
			continue
		}
		g.Go(func() error {
			r, err := t.constructValue(gctx, val, path)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dechunk(out), nil
}

// dechunk concatenates the data of chunk containers. arr is returned as is
// unless every element is a chunk.
func dechunk(arr []any) []any {
	if len(arr) == 0 {
		return arr
	}
	n := 0
	for _, e := range arr {
		b, ok := e.(base.Base)
		if !ok || !b.IsChunk() {
			return arr
		}
		n += len(b.ChunkData())
	}
	flat := make([]any, 0, n)
	for _, e := range arr {
		flat = append(flat, e.(base.Base).ChunkData()...)
	}
	return flat
}

// advance reports one more constructed node.
func (t *Traverser) advance() {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.current = min(t.current+1, t.total)
	if t.onProgress != nil {
		t.onProgress(Progress{Stage: StageConstruction, Current: t.current, Total: t.total})
	}
}

func (t *Traverser) emit(p Progress) {
	if t.onProgress == nil {
		return
	}
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.onProgress(p)
}
