// Package store defines the persistence sink that write-behind workers fill
// and loaders read back from.
//
// Objects are immutable and content-addressed, so PutMany never overwrites:
// writing an id that is already present is a no-op.
package store

import (
	"context"
	"errors"

	"github.com/marmos91/objectloader/pkg/base"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store: closed")

// Store persists objects by id.
type Store interface {
	// GetMany returns the stored items among ids, in request order, and the
	// ids that were not found.
	GetMany(ctx context.Context, ids []string) (found []base.Item, missing []string, err error)

	// PutMany stores items. Ids already present are left untouched.
	PutMany(ctx context.Context, items []base.Item) error

	// Count returns the number of stored objects.
	Count(ctx context.Context) (int64, error)

	// Type names the backend.
	Type() string

	Close() error
}

// Split partitions ids into those present in found and those that are not,
// preserving request order for found.
func Split(ids []string, found map[string]base.Item) ([]base.Item, []string) {
	items := make([]base.Item, 0, len(found))
	var missing []string
	for _, id := range ids {
		if it, ok := found[id]; ok {
			items = append(items, it)
		} else {
			missing = append(missing, id)
		}
	}
	return items, missing
}
