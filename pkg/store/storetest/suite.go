// Package storetest holds the conformance suite every store.Store backend
// must pass.
package storetest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
)

// StoreFactory creates a fresh, empty Store for each test. It may use
// t.TempDir and t.Cleanup.
type StoreFactory func(t *testing.T) store.Store

// RunConformanceSuite runs every conformance test against factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, factory(t)) })
	t.Run("GetPreservesOrder", func(t *testing.T) { testGetPreservesOrder(t, factory(t)) })
	t.Run("PutIsIdempotent", func(t *testing.T) { testPutIsIdempotent(t, factory(t)) })
	t.Run("EmptyRequests", func(t *testing.T) { testEmptyRequests(t, factory(t)) })
	t.Run("LargeBatch", func(t *testing.T) { testLargeBatch(t, factory(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, factory(t)) })
}

func item(id string, props ...any) base.Item {
	b := base.Base{"id": id}
	for i := 0; i+1 < len(props); i += 2 {
		b[props[i].(string)] = props[i+1]
	}
	return base.NewItem(b)
}

func testPutAndGet(t *testing.T, s store.Store) {
	ctx := t.Context()

	require.NoError(t, s.PutMany(ctx, []base.Item{
		item("A", "name", "wall", "__closure", map[string]any{"B": 1.0}),
		item("B", "values", []any{1.0, 2.0}),
	}))

	found, missing, err := s.GetMany(ctx, []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, missing)
	require.Len(t, found, 2)

	assert.Equal(t, "A", found[0].BaseID)
	assert.Equal(t, "wall", found[0].Base["name"])
	assert.Equal(t, map[string]int{"B": 1}, found[0].Base.Closure())
	assert.Equal(t, []any{1.0, 2.0}, found[1].Base["values"])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func testGetPreservesOrder(t *testing.T, s store.Store) {
	ctx := t.Context()
	require.NoError(t, s.PutMany(ctx, []base.Item{item("1"), item("2"), item("3")}))

	found, _, err := s.GetMany(ctx, []string{"3", "1", "2"})
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "3", found[0].BaseID)
	assert.Equal(t, "1", found[1].BaseID)
	assert.Equal(t, "2", found[2].BaseID)
}

func testPutIsIdempotent(t *testing.T, s store.Store) {
	ctx := t.Context()

	require.NoError(t, s.PutMany(ctx, []base.Item{item("A", "v", 1.0)}))
	require.NoError(t, s.PutMany(ctx, []base.Item{item("A", "v", 2.0), item("B")}))
	require.NoError(t, s.PutMany(ctx, []base.Item{item("C"), item("C")}))

	found, _, err := s.GetMany(ctx, []string{"A"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 1.0, found[0].Base["v"], "existing objects are never overwritten")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func testEmptyRequests(t *testing.T, s store.Store) {
	ctx := t.Context()

	require.NoError(t, s.PutMany(ctx, nil))
	found, missing, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, missing)
}

func testLargeBatch(t *testing.T, s store.Store) {
	ctx := t.Context()

	const n = 1500
	items := make([]base.Item, n)
	ids := make([]string, n)
	for i := range n {
		ids[i] = fmt.Sprintf("obj-%04d", i)
		items[i] = item(ids[i], "i", float64(i))
	}
	require.NoError(t, s.PutMany(ctx, items))

	found, missing, err := s.GetMany(ctx, ids)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Len(t, found, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, n, count)
}

func testClosed(t *testing.T, s store.Store) {
	ctx := t.Context()
	require.NoError(t, s.Close())

	_, _, err := s.GetMany(ctx, []string{"A"})
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, s.PutMany(ctx, []base.Item{item("A")}), store.ErrClosed)
	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
}
