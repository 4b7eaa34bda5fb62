package result

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/pkg/backend"
)

// graphFixture stores root -> (c1, c2), c1 -> (c3) in the backend.
func graphFixture(t *testing.T) (backend.Backend, *AsyncResult) {
	t.Helper()
	ctx := context.Background()
	store := testBackend()
	require.NoError(t, store.InitState(ctx, "root", "", ""))
	require.NoError(t, store.InitState(ctx, "c1", "root", ""))
	require.NoError(t, store.InitState(ctx, "c2", "root", ""))
	require.NoError(t, store.InitState(ctx, "c3", "c1", ""))
	require.NoError(t, store.AddChild(ctx, "root", "c1"))
	require.NoError(t, store.AddChild(ctx, "root", "c2"))
	require.NoError(t, store.AddChild(ctx, "c1", "c3"))
	return store, NewAsyncResult("c3", nil, store, clock.New())
}

func TestDependencyGraphOf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, leaf := graphFixture(t)

	// The walk starts at the topmost ancestor, regardless of the
	// handle it was built from.
	g, err := DependencyGraphOf(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, "root", g.Root())
	assert.Equal(t, []string{"root", "c1", "c2", "c3"}, g.Nodes())
	assert.Equal(t, []string{"c1", "c2"}, g.Children("root"))
	assert.Equal(t, []string{"c3"}, g.Children("c1"))
	assert.Empty(t, g.Children("c2"))
}

func TestCollect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, leaf := graphFixture(t)

	require.NoError(t, store.MarkSuccess(ctx, "root", 1))
	require.NoError(t, store.MarkSuccess(ctx, "c1", 2))
	require.NoError(t, store.MarkFailure(ctx, "c2", "c2 broke"))
	require.NoError(t, store.MarkSuccess(ctx, "c3", 3))

	items, err := leaf.Collect(ctx, false).All()
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, CollectItem{ID: "root", Value: 1}, items[0])
	assert.Equal(t, CollectItem{ID: "c1", Value: 2}, items[1])
	require.Error(t, items[2].Err)
	assert.Equal(t, CollectItem{ID: "c3", Value: 3}, items[3])
}

func TestCollect_IncompleteStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, leaf := graphFixture(t)

	require.NoError(t, store.MarkSuccess(ctx, "root", 1))
	// c1 stays pending.

	_, err := leaf.Collect(ctx, false).All()
	require.Error(t, err)
	var incompleteErr *IncompleteStreamError
	require.ErrorAs(t, err, &incompleteErr)
	assert.Equal(t, "c1", incompleteErr.TaskID)

	// The intermediate mode yields pending markers instead.
	items, err := leaf.Collect(ctx, true).All()
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.False(t, items[0].Pending)
	assert.True(t, items[1].Pending)
}

func TestCollect_ValueBeforeNextPanics(t *testing.T) {
	t.Parallel()
	_, leaf := graphFixture(t)
	assert.Panics(t, func() {
		leaf.Collect(context.Background(), false).Value()
	})
}
