// Package backend defines the result-backend contract: storage of task
// states consumed by the result handles and the chord synchronization.
// The core coordinates purely through this contract, it holds no locks
// of its own.
package backend

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/pkg/utctime"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRevoked Status = "revoked"
)

// State is the stored state of one dispatched task.
// The authoritative copy always lives in the backend, result handles
// read through to it and never cache terminal values themselves.
type State struct {
	ID         string           `json:"id" validate:"required"`
	Status     Status           `json:"status" validate:"required"`
	Result     any              `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	ParentID   string           `json:"parentId,omitempty"`
	ChildIDs   []string         `json:"childIds,omitempty"`
	GroupID    string           `json:"groupId,omitempty"`
	Counted    bool             `json:"counted,omitempty"`
	CreatedAt  utctime.UTCTime  `json:"createdAt"`
	FinishedAt *utctime.UTCTime `json:"finishedAt,omitempty"`
}

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	switch s.Status {
	case StatusSuccess, StatusFailure, StatusRevoked:
		return true
	default:
		return false
	}
}

func (s State) IsSuccessful() bool {
	return s.Status == StatusSuccess
}

func (s State) IsFailed() bool {
	return s.Status == StatusFailure || s.Status == StatusRevoked
}

// ErrorMarker is the positional stand-in for a failed member's result,
// collected into a chord body's argument list under the default policy.
// It carries only the id, structured error detail must be read from the
// backend, errors are not generally serializable across processes.
type ErrorMarker struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

// Backend is the capability contract of the result storage.
type Backend interface {
	// InitState records a pending task before its message is enqueued.
	InitState(ctx context.Context, id, parentID, groupID string) error
	// MarkStarted transitions the task to the started state.
	// It returns false if the task was revoked before it started.
	MarkStarted(ctx context.Context, id string) (bool, error)
	// MarkSuccess records the terminal success state with the return value.
	MarkSuccess(ctx context.Context, id string, result any) error
	// MarkFailure records the terminal failure state with the error message.
	MarkFailure(ctx context.Context, id string, errMsg string) error
	// MarkRevoked requests cancellation, it returns false if the task
	// already started or finished, revocation is best-effort.
	MarkRevoked(ctx context.Context, id string) (bool, error)
	// MarkCounted records that the task's terminal state was fed into
	// the chord accounting. It returns false if a previous delivery was
	// already counted, the transition is one-way.
	MarkCounted(ctx context.Context, id string) (bool, error)
	// GetState reads the task state. An unknown id reads as pending,
	// the state of a task is defined by what the backend has seen.
	GetState(ctx context.Context, id string) (State, error)
	// AddChild links a child task dispatched by a callback of the parent.
	AddChild(ctx context.Context, parentID, childID string) error
	// InitGroup stores the ordered member ids of a dispatched group.
	InitGroup(ctx context.Context, groupID string, memberIDs []string) error
	// GroupMembers returns the ordered member ids of the group.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// Counter is an optional backend capability: a linearizable increment
// with a readable running total. Its presence selects the counter-based
// chord synchronization strategy.
type Counter interface {
	// AtomicIncrement increments the counter and returns the new total.
	// The operation must be atomic at the backend, a plain
	// read-modify-write is not acceptable.
	AtomicIncrement(ctx context.Context, key string) (int64, error)
	// DeleteCounter removes the counter key.
	DeleteCounter(ctx context.Context, key string) error
}
