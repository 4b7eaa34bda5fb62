package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/chordsync"
	"github.com/taskmesh/taskmesh/pkg/registry"
	"github.com/taskmesh/taskmesh/pkg/result"
)

func TestClient_ApplyAsync_Single(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	handle, err := c.ApplyAsync(ctx, canvas.NewSignature("add", []any{1, 2}, nil), Call{})
	require.NoError(t, err)
	r, ok := handle.(*result.AsyncResult)
	require.True(t, ok)

	// One message, addressed by the handle id, state pending.
	messages := drainQueue(d.broker)
	require.Len(t, messages, 1)
	assert.Equal(t, r.ID(), messages[0].ID)
	assert.Equal(t, "add", messages[0].Task)

	state, err := d.backend.GetState(ctx, r.ID())
	require.NoError(t, err)
	assert.Equal(t, backend.StatusPending, state.Status)
}

func TestClient_ApplyAsync_UnknownTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	_, err := c.ApplyAsync(ctx, canvas.NewSignature("missing", nil, nil), Call{})
	require.Error(t, err)
	var unknownErr *registry.UnknownTaskError
	require.ErrorAs(t, err, &unknownErr)

	// Nothing was enqueued.
	assert.Empty(t, drainQueue(d.broker))
}

func TestClient_ApplyAsync_InvalidOptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	_, err := c.ApplyAsync(ctx, canvas.NewSignature("add", nil, nil), Call{Options: canvas.Options{"bogus": 1}})
	require.Error(t, err)
	var optErr *canvas.InvalidOptionsError
	require.ErrorAs(t, err, &optErr)
	assert.Empty(t, drainQueue(d.broker))
}

func TestClient_ApplyAsync_Chain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	chain := canvas.NewChain(
		canvas.NewSignature("add", []any{1}, nil),
		canvas.NewSignature("add", []any{2}, nil),
	)
	handle, err := c.ApplyAsync(ctx, chain, Call{})
	require.NoError(t, err)
	r := handle.(*result.AsyncResult)

	// Only the first step is enqueued, it carries the rest of the
	// chain as a success callback.
	messages := drainQueue(d.broker)
	require.Len(t, messages, 1)
	first := messages[0]
	require.Len(t, first.OnSuccess, 1)
	assert.Equal(t, r.ID(), first.OnSuccess[0].ID)
	assert.Equal(t, first.ID, first.OnSuccess[0].ParentID)

	// The handle is threaded through the step results.
	require.NotNil(t, r.Parent())
	assert.Equal(t, first.ID, r.Parent().ID())
}

func TestClient_ApplyAsync_Group(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	grp := canvas.NewGroup(
		canvas.NewSignature("add", []any{1}, nil),
		canvas.NewSignature("add", []any{2}, nil),
	)
	handle, err := c.ApplyAsync(ctx, grp, Call{})
	require.NoError(t, err)
	g, ok := handle.(*result.GroupResult)
	require.True(t, ok)
	require.Equal(t, 2, g.Len())

	// The group record holds the member ids in the index order.
	memberIDs, err := d.backend.GroupMembers(ctx, g.GroupID())
	require.NoError(t, err)
	require.Len(t, memberIDs, 2)
	assert.Equal(t, memberIDs[0], g.Results()[0].ID())

	messages := drainQueue(d.broker)
	assert.Len(t, messages, 2)
}

func TestClient_ApplyAsync_ChordCounterMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)

	// The memory backend provides the Counter capability, so the auto
	// mode selects the counter strategy: no check task is scheduled.
	c := New(d)

	chord := canvas.NewChord(
		canvas.NewGroup(canvas.NewSignature("add", []any{1}, nil), canvas.NewSignature("add", []any{2}, nil)),
		canvas.NewSignature("sum", nil, nil),
	)
	handle, err := c.ApplyAsync(ctx, chord, Call{})
	require.NoError(t, err)
	r := handle.(*result.AsyncResult)

	messages := drainQueue(d.broker)
	require.Len(t, messages, 2)
	for _, msg := range messages {
		assert.Equal(t, "add", msg.Task)
		require.NotNil(t, msg.ChordCallback)
		assert.Equal(t, r.ID(), msg.ChordCallback.ID)
		assert.Equal(t, 2, msg.GroupTaskCount)
	}

	// The body state exists before any member runs.
	state, err := d.backend.GetState(ctx, r.ID())
	require.NoError(t, err)
	assert.Equal(t, backend.StatusPending, state.Status)
}

func TestClient_ApplyAsync_ChordPollingMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d, WithChordMode(chordsync.ModePolling))

	chord := canvas.NewChord(
		canvas.NewGroup(canvas.NewSignature("add", []any{1}, nil)),
		canvas.NewSignature("sum", nil, nil),
	).Set(canvas.Options{canvas.OptInterval: 0})
	_, err := c.ApplyAsync(ctx, chord, Call{})
	require.NoError(t, err)

	// The member message is immediate, the check task is delayed by
	// the polling interval, so only one message is in the queue now.
	messages := drainQueue(d.broker)
	require.Len(t, messages, 1)
	assert.Equal(t, "add", messages[0].Task)
}

func TestClient_Delay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	r, err := c.Delay(ctx, "add", 1, 2)
	require.NoError(t, err)
	messages := drainQueue(d.broker)
	require.Len(t, messages, 1)
	assert.Equal(t, r.ID(), messages[0].ID)
	assert.Equal(t, []any{1.0, 2.0}, messages[0].Args)
}

func TestClient_DispatchSignature_FreezesUnfrozen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	sig := canvas.NewSignature("add", []any{1}, nil)
	require.NoError(t, c.DispatchSignature(ctx, sig))
	messages := drainQueue(d.broker)
	require.Len(t, messages, 1)
	assert.NotEmpty(t, messages[0].ID)
}
