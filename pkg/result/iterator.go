package result

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/backend"
)

// MemberValue is one yielded member of an iterated group.
type MemberValue struct {
	// Index is the member's position in the group, the submission order.
	Index int
	ID    string
	Value any
	// Err is the member's failure, nil on success.
	Err error
}

// Iterator yields group member values in completion order, as they
// become ready. It is lazy, finite and non-restartable, consuming it
// fully observes the same values as Join, in a different order.
type Iterator struct {
	ctx       context.Context
	group     *GroupResult
	remaining map[int]*AsyncResult
	current   MemberValue
	started   bool
	err       error
}

// Iterate returns an iterator over member values in completion order.
// The internals actively poll the backend, so the iterator must not be
// used in a context that has to remain responsive.
func (g *GroupResult) Iterate(ctx context.Context) *Iterator {
	remaining := make(map[int]*AsyncResult, len(g.members))
	for i, m := range g.members {
		remaining[i] = m
	}
	return &Iterator{ctx: ctx, group: g, remaining: remaining}
}

// Next returns true if there is a next value.
// False is returned if there is no next value or an error occurred.
func (v *Iterator) Next() bool {
	if v.err != nil || len(v.remaining) == 0 {
		return false
	}
	for {
		select {
		case <-v.ctx.Done():
			v.err = v.ctx.Err()
			return false
		default:
		}

		// Scan the remaining members for any that reached a terminal state.
		for index, m := range v.remaining {
			state, err := m.State(v.ctx)
			if err != nil {
				v.err = err
				return false
			}
			if state.IsTerminal() {
				delete(v.remaining, index)
				v.current = memberValue(index, state)
				v.started = true
				return true
			}
		}

		if err := sleep(v.ctx, v.group.clock, v.group.pollInterval); err != nil {
			v.err = err
			return false
		}
	}
}

// Value returns the current value.
// It must be called after the Next method.
func (v *Iterator) Value() MemberValue {
	if !v.started {
		panic(errors.New("unexpected Value() call: Next() must be called first"))
	}
	return v.current
}

// Err returns error. It must be checked after iterations (Next() == false).
func (v *Iterator) Err() error {
	return v.err
}

// All consumes the rest of the iterator into a slice, in completion order.
func (v *Iterator) All() ([]MemberValue, error) {
	var out []MemberValue
	for v.Next() {
		out = append(out, v.Value())
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func memberValue(index int, state backend.State) MemberValue {
	out := MemberValue{Index: index, ID: state.ID}
	if state.IsSuccessful() {
		out.Value = state.Result
	} else {
		out.Err = &TaskFailureError{TaskID: state.ID, Message: state.Error}
	}
	return out
}
