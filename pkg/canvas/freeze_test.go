package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeze_Single(t *testing.T) {
	t.Parallel()
	s := NewSignature("a", nil, nil)
	require.NoError(t, s.Freeze())
	assert.True(t, s.IsFrozen())

	// Idempotent.
	id := s.ID
	require.NoError(t, s.Freeze())
	assert.Equal(t, id, s.ID)
}

func TestFreeze_Chain(t *testing.T) {
	t.Parallel()
	chain := NewChain(NewSignature("a", nil, nil), NewSignature("b", nil, nil), NewSignature("c", nil, nil))
	require.NoError(t, chain.Freeze())

	a, b, c := chain.Tasks[0], chain.Tasks[1], chain.Tasks[2]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, b.ParentID)
	assert.Equal(t, b.ID, c.ParentID)

	// The chain is addressed by its tail.
	assert.Equal(t, c.ID, chain.ID)
}

func TestFreeze_Group(t *testing.T) {
	t.Parallel()
	grp := NewGroup(NewSignature("a", nil, nil), NewSignature("b", nil, nil))
	require.NoError(t, grp.Freeze())

	require.NotEmpty(t, grp.GroupID)
	for i, member := range grp.Tasks {
		assert.Equal(t, grp.GroupID, member.GroupID)
		assert.Equal(t, i, member.GroupIndex)
	}
}

func TestFreeze_Chord(t *testing.T) {
	t.Parallel()
	chord := NewChord(
		NewGroup(NewSignature("a", nil, nil), NewSignature("b", nil, nil)),
		NewSignature("sum", nil, nil),
	)
	require.NoError(t, chord.Freeze())

	require.NotEmpty(t, chord.GroupID)
	assert.Equal(t, chord.Body.ID, chord.ID)
	for _, member := range chord.Tasks {
		assert.Equal(t, chord.GroupID, member.GroupID)
		assert.Equal(t, 2, member.GroupTaskCount)
		require.NotNil(t, member.ChordCallback)
		assert.Equal(t, chord.Body.ID, member.ChordCallback.ID)
	}
}

func TestFreeze_ChordCompositeMember(t *testing.T) {
	t.Parallel()

	// The chord accounting attaches to the member's tail leaf: the
	// completion of the whole member, not of its first step.
	member := NewChain(NewSignature("a", nil, nil), NewSignature("b", nil, nil))
	chord := NewChord(NewGroup(member, NewSignature("c", nil, nil)), NewSignature("sum", nil, nil))
	require.NoError(t, chord.Freeze())

	chainMember := chord.Tasks[0]
	require.Equal(t, KindChain, chainMember.Kind)
	first, tail := chainMember.Tasks[0], chainMember.Tasks[1]
	assert.Empty(t, first.GroupID)
	assert.Nil(t, first.ChordCallback)
	assert.Equal(t, chord.GroupID, tail.GroupID)
	assert.Equal(t, 0, tail.GroupIndex)
	assert.NotNil(t, tail.ChordCallback)
}

func TestFreeze_NestedGroupMemberRejected(t *testing.T) {
	t.Parallel()
	nested := NewGroup(NewSignature("a", nil, nil)).Set(Options{OptQueue: "q1"})
	grp := NewGroup(nested, NewSignature("b", nil, nil))
	err := grp.Freeze()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no tail task")
}

func TestTailAndHeadLeaves(t *testing.T) {
	t.Parallel()
	chord := NewChord(
		NewGroup(NewSignature("a", nil, nil), NewSignature("b", nil, nil)),
		NewChain(NewSignature("c", nil, nil), NewSignature("d", nil, nil)),
	)

	tail := chord.TailLeaf()
	require.NotNil(t, tail)
	assert.Equal(t, "d", tail.Task)

	heads := chord.HeadLeaves()
	require.Len(t, heads, 2)
	assert.Equal(t, "a", heads[0].Task)
	assert.Equal(t, "b", heads[1].Task)

	assert.Nil(t, NewGroup(NewSignature("x", nil, nil)).TailLeaf())
}
