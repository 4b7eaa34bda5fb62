package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature_CloneWith(t *testing.T) {
	t.Parallel()
	original := NewSignature("add", []any{1, 2}, map[string]any{"a": 1, "b": 2})
	original.Options = Options{OptQueue: "q1", OptCountdown: 5}

	clone := original.CloneWith([]any{0}, map[string]any{"b": 20, "c": 30}, Options{OptQueue: "q2"})

	// Extra args are prepended, kwargs and options override on collision.
	assert.Equal(t, []any{0, 1, 2}, clone.Args)
	assert.Equal(t, map[string]any{"a": 1, "b": 20, "c": 30}, clone.Kwargs)
	assert.Equal(t, Options{OptQueue: "q2", OptCountdown: 5}, clone.Options)

	// The original is untouched.
	assert.Equal(t, []any{1, 2}, original.Args)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, original.Kwargs)
	assert.Equal(t, Options{OptQueue: "q1", OptCountdown: 5}, original.Options)
}

func TestSignature_WithArgs_Immutable(t *testing.T) {
	t.Parallel()
	original := NewSignature("add", []any{1, 2}, map[string]any{"a": 1}).SetImmutable(true)

	clone := original.WithArgs([]any{0}, map[string]any{"b": 2}, Options{OptQueue: "q2"})

	// The payload is closed, options still merge.
	assert.Equal(t, []any{1, 2}, clone.Args)
	assert.Equal(t, map[string]any{"a": 1}, clone.Kwargs)
	assert.Equal(t, Options{OptQueue: "q2"}, clone.Options)
}

func TestSignature_Clone_Independence(t *testing.T) {
	t.Parallel()
	original := NewSignature("add", []any{1}, map[string]any{"a": 1})
	original.Link(NewSignature("notify", nil, nil))

	clone := original.Clone()
	clone.Args[0] = 100
	clone.Kwargs["a"] = 100
	clone.OnSuccess[0].Task = "changed"

	assert.Equal(t, []any{1}, original.Args)
	assert.Equal(t, map[string]any{"a": 1}, original.Kwargs)
	assert.Equal(t, "notify", original.OnSuccess[0].Task)
}

func TestSignature_Link_Clones(t *testing.T) {
	t.Parallel()
	callback := NewSignature("notify", nil, nil)
	s := NewSignature("add", nil, nil).Link(callback).LinkError(callback)

	callback.Task = "changed"
	assert.Equal(t, "notify", s.OnSuccess[0].Task)
	assert.Equal(t, "notify", s.OnError[0].Task)
}

func TestSignature_Set(t *testing.T) {
	t.Parallel()
	s := NewSignature("add", nil, nil).SetImmutable(true).Set(Options{OptQueue: "q1"}).Set(Options{OptCountdown: 1})
	assert.Equal(t, Options{OptQueue: "q1", OptCountdown: 1}, s.Options)
}

func TestSignature_Validate(t *testing.T) {
	t.Parallel()

	// Missing task name.
	err := (&Signature{Kind: KindSingle}).Validate()
	require.Error(t, err)
	assert.Equal(t, "single signature must have a task name", err.Error())

	// Empty composite.
	err = (&Signature{Kind: KindGroup}).Validate()
	require.Error(t, err)

	// Chord without a body.
	err = (&Signature{Kind: KindChord, Tasks: []*Signature{NewSignature("a", nil, nil)}}).Validate()
	require.Error(t, err)
	assert.Equal(t, "chord signature must have a body", err.Error())

	// Unknown option key, anywhere in the tree.
	invalid := NewSignature("a", nil, nil)
	invalid.Options = Options{"unknown_option": 1}
	err = NewChain(invalid, NewSignature("b", nil, nil)).Validate()
	require.Error(t, err)
	var optErr *InvalidOptionsError
	assert.ErrorAs(t, err, &optErr)
	assert.Equal(t, "unknown_option", optErr.Key)

	// Valid tree.
	require.NoError(t, NewChord(NewGroup(NewSignature("a", nil, nil)), NewSignature("b", nil, nil)).Validate())
}
