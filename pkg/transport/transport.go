// Package transport defines how raw objects are fetched from wherever a graph
// lives, and the line format objects travel in.
package transport

import (
	"context"
	"errors"

	"github.com/marmos91/objectloader/pkg/base"
)

// ErrNotFound is returned by FetchSingle when the source has no such id.
var ErrNotFound = errors.New("transport: object not found")

// Downloader fetches objects by id.
type Downloader interface {
	// FetchBatch returns the items the source knows among ids. Missing ids
	// are absent from the result and are not an error.
	FetchBatch(ctx context.Context, ids []string) ([]base.Item, error)

	// FetchSingle returns one item, or ErrNotFound.
	FetchSingle(ctx context.Context, id string) (base.Item, error)

	// Name identifies the transport in logs and metrics.
	Name() string
}
