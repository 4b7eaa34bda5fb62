package client

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/pkg/log"
	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/broker"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/registry"
	"github.com/taskmesh/taskmesh/pkg/result"
)

type testDeps struct {
	logger   log.Logger
	clk      clock.Clock
	registry *registry.Registry
	broker   *broker.Memory
	backend  *backend.Memory
}

func (d *testDeps) Logger() log.Logger { return d.logger }

func (d *testDeps) Clock() clock.Clock { return d.clk }

func (d *testDeps) Registry() *registry.Registry { return d.registry }

func (d *testDeps) Broker() broker.Broker { return d.broker }

func (d *testDeps) Backend() backend.Backend { return d.backend }

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	clk := clock.New()
	d := &testDeps{
		logger:   log.NewNopLogger(),
		clk:      clk,
		registry: registry.New(),
		broker:   broker.NewMemory(clk, log.NewNopLogger()),
		backend:  backend.NewMemory(clk),
	}
	t.Cleanup(d.broker.Close)

	// add sums its positional arguments.
	require.NoError(t, d.registry.RegisterFn("add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		sum := 0.0
		for _, a := range args {
			sum += cast.ToFloat64(a)
		}
		return sum, nil
	}))
	// sum sums the list in its first argument.
	require.NoError(t, d.registry.RegisterFn("sum", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		sum := 0.0
		for _, item := range args[0].([]any) {
			sum += cast.ToFloat64(item)
		}
		return sum, nil
	}))
	// echo returns its first argument.
	require.NoError(t, d.registry.RegisterFn("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	}))
	require.NoError(t, d.registry.RegisterFn("fail", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, assert.AnError
	}))
	return d
}

func drainQueue(b *broker.Memory) []*canvas.Signature {
	var out []*canvas.Signature
	for {
		select {
		case msg := <-b.Queue():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestClient_Apply_Single(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	value, err := c.Apply(ctx, canvas.NewSignature("add", []any{2, 3}, nil), Call{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, value)

	// The call extras merge per the with-args contract.
	value, err = c.Apply(ctx, canvas.NewSignature("add", []any{2, 3}, nil), Call{Args: []any{10}})
	require.NoError(t, err)
	assert.Equal(t, 15.0, value)
}

func TestClient_Apply_Chain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	// ((2+2)+4)+8 = 16, each step receives the previous result.
	chain := canvas.NewSignature("add", []any{2, 2}, nil).
		Then(canvas.NewSignature("add", []any{4}, nil)).
		Then(canvas.NewSignature("add", []any{8}, nil))
	value, err := c.Apply(ctx, chain, Call{})
	require.NoError(t, err)
	assert.Equal(t, 16.0, value)

	// An immutable step ignores the forwarded value.
	chain = canvas.NewSignature("add", []any{2, 2}, nil).
		Then(canvas.NewSignature("add", []any{100}, nil).SetImmutable(true))
	value, err = c.Apply(ctx, chain, Call{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, value)
}

func TestClient_Apply_Group(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	grp := canvas.NewGroup(
		canvas.NewSignature("add", []any{1, 1}, nil),
		canvas.NewSignature("add", []any{2, 2}, nil),
		canvas.NewSignature("add", []any{3, 3}, nil),
	)
	value, err := c.Apply(ctx, grp, Call{})
	require.NoError(t, err)
	assert.Equal(t, []any{2.0, 4.0, 6.0}, value)
}

func TestClient_Apply_Chord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	chord := canvas.NewGroup(
		canvas.NewSignature("add", []any{1, 1}, nil),
		canvas.NewSignature("add", []any{2, 2}, nil),
	).Then(canvas.NewSignature("sum", nil, nil))
	value, err := c.Apply(ctx, chord, Call{})
	require.NoError(t, err)
	assert.Equal(t, 6.0, value)
}

func TestClient_Apply_ChordPropagate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	chord := canvas.NewChord(
		canvas.NewGroup(canvas.NewSignature("add", []any{1, 1}, nil), canvas.NewSignature("fail", nil, nil)),
		canvas.NewSignature("sum", nil, nil),
	).Set(canvas.Options{canvas.OptChordPolicy: canvas.ChordPolicyPropagate})

	_, err := c.Apply(ctx, chord, Call{})
	require.Error(t, err)
	var failureErr *result.TaskFailureError
	require.ErrorAs(t, err, &failureErr)

	// The body record carries the failure.
	state, stateErr := d.backend.GetState(ctx, failureErr.TaskID)
	require.NoError(t, stateErr)
	assert.True(t, state.IsFailed())
}

func TestClient_Apply_ChordCollect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	// The default policy replaces the failed member's value with an
	// error marker and the body still runs.
	chord := canvas.NewChord(
		canvas.NewGroup(canvas.NewSignature("add", []any{1, 1}, nil), canvas.NewSignature("fail", nil, nil)),
		canvas.NewSignature("echo", nil, nil),
	)
	value, err := c.Apply(ctx, chord, Call{})
	require.NoError(t, err)

	values, ok := value.([]any)
	require.True(t, ok)
	require.Len(t, values, 2)
	assert.Equal(t, 2.0, values[0])
	marker, ok := values[1].(backend.ErrorMarker)
	require.True(t, ok)
	assert.NotEmpty(t, marker.TaskID)
}

func TestClient_Apply_UnknownTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	c := New(d)

	// Resolution fails up front, even for a nested callback name.
	sig := canvas.NewSignature("add", nil, nil).Link(canvas.NewSignature("missing", nil, nil))
	_, err := c.Apply(ctx, sig, Call{})
	require.Error(t, err)
	var unknownErr *registry.UnknownTaskError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "missing", unknownErr.Name)
}

func TestClient_Apply_Callbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)

	var succeeded, failed []any
	require.NoError(t, d.registry.RegisterFn("onSuccess", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		succeeded = append(succeeded, args[0])
		return nil, nil
	}))
	require.NoError(t, d.registry.RegisterFn("onError", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		failed = append(failed, args[0])
		return nil, nil
	}))
	c := New(d)

	// Success callback receives the return value.
	sig := canvas.NewSignature("add", []any{2, 3}, nil).Link(canvas.NewSignature("onSuccess", nil, nil))
	require.NoError(t, sig.Freeze())
	_, err := c.Apply(ctx, sig, Call{})
	require.NoError(t, err)
	assert.Equal(t, []any{5.0}, succeeded)

	// The child is linked to the parent record.
	handle := result.NewAsyncResult(sig.ID, nil, d.backend, d.clk)
	children, err := handle.Children(ctx)
	require.NoError(t, err)
	assert.Len(t, children, 1)

	// Error callback receives the failed task id.
	_, err = c.Apply(ctx, canvas.NewSignature("fail", nil, nil).LinkError(canvas.NewSignature("onError", nil, nil)), Call{})
	require.Error(t, err)
	require.Len(t, failed, 1)
	var failureErr *result.TaskFailureError
	require.ErrorAs(t, err, &failureErr)
	assert.Equal(t, failureErr.TaskID, failed[0])
}
