// Package memory provides an in-process Downloader backed by a map.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/transport"
)

// Downloader serves objects from memory.
type Downloader struct {
	mu      sync.RWMutex
	objects map[string]base.Item

	batches atomic.Uint64
}

// New creates a Downloader holding items.
func New(items ...base.Item) *Downloader {
	d := &Downloader{objects: make(map[string]base.Item, len(items))}
	d.Put(items...)
	return d
}

// FromLines loads every object line in r.
func FromLines(r io.Reader) (*Downloader, error) {
	d := New()
	err := transport.ReadLines(r, func(it base.Item) error {
		d.Put(it)
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("read object lines: %w", err)
	}
	return d, nil
}

// Put adds or replaces items.
func (d *Downloader) Put(items ...base.Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, it := range items {
		d.objects[it.BaseID] = it
	}
}

// Len returns the number of objects held.
func (d *Downloader) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// Batches returns how many FetchBatch calls were served.
func (d *Downloader) Batches() uint64 {
	return d.batches.Load()
}

func (d *Downloader) FetchBatch(ctx context.Context, ids []string) ([]base.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.batches.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]base.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := d.objects[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (d *Downloader) FetchSingle(ctx context.Context, id string) (base.Item, error) {
	if err := ctx.Err(); err != nil {
		return base.Item{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	it, ok := d.objects[id]
	if !ok {
		return base.Item{}, fmt.Errorf("%s: %w", id, transport.ErrNotFound)
	}
	return it, nil
}

func (d *Downloader) Name() string { return "memory" }

var _ transport.Downloader = (*Downloader)(nil)
