package result

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/backend"
)

// GroupResult aggregates the member results of a dispatched group.
// The member order is the group construction order, it is preserved
// through execution and used for final result assembly, never the
// completion order.
type GroupResult struct {
	groupID      string
	members      []*AsyncResult
	clock        clock.Clock
	pollInterval time.Duration
}

func NewGroupResult(groupID string, members []*AsyncResult, clk clock.Clock) *GroupResult {
	return &GroupResult{
		groupID:      groupID,
		members:      members,
		clock:        clk,
		pollInterval: DefaultPollInterval,
	}
}

// GroupResultOf rebuilds the handle from the backend group record.
func GroupResultOf(ctx context.Context, groupID string, b backend.Backend, clk clock.Clock) (*GroupResult, error) {
	memberIDs, err := b.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]*AsyncResult, len(memberIDs))
	for i, id := range memberIDs {
		members[i] = NewAsyncResult(id, nil, b, clk)
	}
	return NewGroupResult(groupID, members, clk), nil
}

// WithPollInterval overrides how often blocking reads re-check the backend.
func (g *GroupResult) WithPollInterval(interval time.Duration) *GroupResult {
	clone := *g
	clone.pollInterval = interval
	members := make([]*AsyncResult, len(g.members))
	for i, m := range g.members {
		members[i] = m.WithPollInterval(interval)
	}
	clone.members = members
	return &clone
}

func (g *GroupResult) GroupID() string {
	return g.groupID
}

// Results returns the member handles in the group index order.
func (g *GroupResult) Results() []*AsyncResult {
	out := make([]*AsyncResult, len(g.members))
	copy(out, g.members)
	return out
}

func (g *GroupResult) Len() int {
	return len(g.members)
}

// Ready returns true if every member is in a terminal state.
func (g *GroupResult) Ready(ctx context.Context) (bool, error) {
	for _, m := range g.members {
		ready, err := m.Ready(ctx)
		if err != nil {
			return false, err
		}
		if !ready {
			return false, nil
		}
	}
	return true, nil
}

// Successful returns true if every member terminated successfully.
func (g *GroupResult) Successful(ctx context.Context) (bool, error) {
	for _, m := range g.members {
		ok, err := m.Successful(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Failed returns true if any member terminated with a failure.
func (g *GroupResult) Failed(ctx context.Context) (bool, error) {
	for _, m := range g.members {
		failed, err := m.Failed(ctx)
		if err != nil {
			return false, err
		}
		if failed {
			return true, nil
		}
	}
	return false, nil
}

// Waiting returns true if any member is not yet terminal.
func (g *GroupResult) Waiting(ctx context.Context) (bool, error) {
	ready, err := g.Ready(ctx)
	return !ready, err
}

// CompletedCount returns the count of terminal members.
func (g *GroupResult) CompletedCount(ctx context.Context) (int, error) {
	count := 0
	for _, m := range g.members {
		ready, err := m.Ready(ctx)
		if err != nil {
			return 0, err
		}
		if ready {
			count++
		}
	}
	return count, nil
}

// Join blocks until every member is terminal or the timeout elapses,
// and returns the member values in the group index order. The first
// failure in index order is propagated as TaskFailureError.
func (g *GroupResult) Join(ctx context.Context, timeout time.Duration) ([]any, error) {
	states, err := g.waitStates(ctx, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(states))
	for i, state := range states {
		value, err := valueOf(state)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

// JoinAll is like Join, but member failures are not propagated:
// a failed member's slot holds its backend.ErrorMarker.
func (g *GroupResult) JoinAll(ctx context.Context, timeout time.Duration) ([]any, error) {
	states, err := g.waitStates(ctx, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(states))
	for i, state := range states {
		if state.IsSuccessful() {
			out[i] = state.Result
		} else {
			out[i] = backend.ErrorMarker{TaskID: state.ID, Error: state.Error}
		}
	}
	return out, nil
}

// Revoke requests cancellation of every member, best-effort.
func (g *GroupResult) Revoke(ctx context.Context) error {
	errs := errors.NewMultiError()
	for _, m := range g.members {
		if _, err := m.Revoke(ctx); err != nil {
			errs.AppendWithPrefixf(err, `cannot revoke task "%s"`, m.ID())
		}
	}
	return errs.ErrorOrNil()
}

func (g *GroupResult) waitStates(ctx context.Context, timeout time.Duration) ([]backend.State, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = g.clock.Now().Add(timeout)
	}
	for {
		states := make([]backend.State, len(g.members))
		allReady := true
		for i, m := range g.members {
			state, err := m.State(ctx)
			if err != nil {
				return nil, err
			}
			states[i] = state
			if !state.IsTerminal() {
				allReady = false
			}
		}
		if allReady {
			return states, nil
		}
		if !deadline.IsZero() && !g.clock.Now().Before(deadline) {
			return nil, &TimeoutError{After: timeout}
		}
		if err := sleep(ctx, g.clock, g.pollInterval); err != nil {
			return nil, err
		}
	}
}
