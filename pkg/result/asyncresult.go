// Package result provides client-side handles to dispatched work:
// AsyncResult for one task, GroupResult for a group, and the dependency
// graph walk. Handles read through to the result backend, they never
// cache the authoritative state.
package result

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/pkg/backend"
)

const DefaultPollInterval = 10 * time.Millisecond

// AsyncResult identifies one dispatched signature.
type AsyncResult struct {
	id           string
	parent       *AsyncResult
	backend      backend.Backend
	clock        clock.Clock
	pollInterval time.Duration
}

func NewAsyncResult(id string, parent *AsyncResult, b backend.Backend, clk clock.Clock) *AsyncResult {
	return &AsyncResult{
		id:           id,
		parent:       parent,
		backend:      b,
		clock:        clk,
		pollInterval: DefaultPollInterval,
	}
}

// WithPollInterval overrides how often blocking reads re-check the backend.
func (r *AsyncResult) WithPollInterval(interval time.Duration) *AsyncResult {
	clone := *r
	clone.pollInterval = interval
	return &clone
}

func (r *AsyncResult) ID() string {
	return r.id
}

// Parent is the result of the signature that triggered this one via
// linking or chaining. It is a relation, not ownership.
func (r *AsyncResult) Parent() *AsyncResult {
	return r.parent
}

// Children returns handles to the tasks dispatched by this task's callbacks.
func (r *AsyncResult) Children(ctx context.Context) ([]*AsyncResult, error) {
	state, err := r.State(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AsyncResult, 0, len(state.ChildIDs))
	for _, id := range state.ChildIDs {
		child := NewAsyncResult(id, r, r.backend, r.clock)
		child.pollInterval = r.pollInterval
		out = append(out, child)
	}
	return out, nil
}

func (r *AsyncResult) State(ctx context.Context) (backend.State, error) {
	return r.backend.GetState(ctx, r.id)
}

func (r *AsyncResult) Ready(ctx context.Context) (bool, error) {
	state, err := r.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsTerminal(), nil
}

func (r *AsyncResult) Successful(ctx context.Context) (bool, error) {
	state, err := r.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsSuccessful(), nil
}

func (r *AsyncResult) Failed(ctx context.Context) (bool, error) {
	state, err := r.State(ctx)
	if err != nil {
		return false, err
	}
	return state.IsFailed(), nil
}

// Get blocks until the task reaches a terminal state or the timeout
// elapses, timeout <= 0 means no deadline. A failed task surfaces as
// TaskFailureError, an elapsed deadline as TimeoutError.
//
// Get must not be called from a task body that produced this result's
// ancestors, a worker waiting on its own descendants can deadlock.
func (r *AsyncResult) Get(ctx context.Context, timeout time.Duration) (any, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = r.clock.Now().Add(timeout)
	}
	for {
		state, err := r.State(ctx)
		if err != nil {
			return nil, err
		}
		if state.IsTerminal() {
			return valueOf(state)
		}
		if !deadline.IsZero() && !r.clock.Now().Before(deadline) {
			return nil, &TimeoutError{After: timeout}
		}
		if err := sleep(ctx, r.clock, r.pollInterval); err != nil {
			return nil, err
		}
	}
}

// Revoke requests cancellation, best-effort: a task that already
// started is not interrupted. It returns true if the task was revoked.
func (r *AsyncResult) Revoke(ctx context.Context) (bool, error) {
	return r.backend.MarkRevoked(ctx, r.id)
}

func valueOf(state backend.State) (any, error) {
	if state.IsSuccessful() {
		return state.Result, nil
	}
	return nil, &TaskFailureError{TaskID: state.ID, Message: state.Error}
}

func sleep(ctx context.Context, clk clock.Clock, interval time.Duration) error {
	timer := clk.Timer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
