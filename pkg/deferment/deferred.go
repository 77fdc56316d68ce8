package deferment

import (
	"context"
	"sync"

	"github.com/marmos91/objectloader/pkg/base"
)

// DeferredBase is a one-shot result cell for one object id. It completes
// exactly once, either with a Base or with an error, and every waiter
// (current or future) observes the same outcome.
type DeferredBase struct {
	id   string
	done chan struct{}
	once sync.Once

	// Written once before done is closed; read only after.
	base base.Base
	err  error
}

func newDeferred(id string) *DeferredBase {
	return &DeferredBase{id: id, done: make(chan struct{})}
}

// resolvedDeferred returns a cell that is already complete.
func resolvedDeferred(b base.Base) *DeferredBase {
	d := newDeferred(b.ID())
	d.found(b)
	return d
}

// ID returns the object id this cell waits for.
func (d *DeferredBase) ID() string {
	return d.id
}

// Done is closed once the cell has completed.
func (d *DeferredBase) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the cell completes or ctx is done. Cancelling ctx only
// stops this waiter; the deferment itself stays outstanding.
func (d *DeferredBase) Wait(ctx context.Context) (base.Base, error) {
	select {
	case <-d.done:
		return d.base, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while pending.
func (d *DeferredBase) Result() (b base.Base, ok bool, err error) {
	select {
	case <-d.done:
		return d.base, true, d.err
	default:
		return nil, false, nil
	}
}

// found completes the cell with b. Only the first completion has any effect.
func (d *DeferredBase) found(b base.Base) bool {
	return d.complete(b, nil)
}

// reject completes the cell with err.
func (d *DeferredBase) reject(err error) bool {
	return d.complete(nil, err)
}

func (d *DeferredBase) complete(b base.Base, err error) bool {
	completed := false
	d.once.Do(func() {
		d.base = b
		d.err = err
		close(d.done)
		completed = true
	})
	return completed
}
