package client

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/chordsync"
	"github.com/taskmesh/taskmesh/pkg/registry"
	"github.com/taskmesh/taskmesh/pkg/result"
)

// Apply executes the signature tree inline in the calling goroutine,
// without a broker or a worker, recording states in the backend the
// same way a worker would. Meant for tests and local development,
// the semantics match the asynchronous path, only everything runs
// sequentially.
func (c *Client) Apply(ctx context.Context, sig *canvas.Signature, call Call) (any, error) {
	working := sig.WithArgs(call.Args, call.Kwargs, call.Options)
	if err := working.Validate(); err != nil {
		return nil, err
	}
	if err := c.checkTasks(working); err != nil {
		return nil, err
	}
	if err := working.Freeze(); err != nil {
		return nil, err
	}
	return c.applyNode(ctx, working)
}

func (c *Client) applyNode(ctx context.Context, s *canvas.Signature) (any, error) {
	switch s.Kind {
	case canvas.KindSingle:
		return c.applySingle(ctx, s)
	case canvas.KindChain:
		return c.applyChain(ctx, s)
	case canvas.KindGroup:
		values, _, err := c.applyMembers(ctx, s)
		if err != nil {
			return nil, err
		}
		return values, nil
	case canvas.KindChord:
		return c.applyChord(ctx, s)
	default:
		return nil, errors.Errorf(`unexpected signature kind "%s"`, s.Kind)
	}
}

func (c *Client) applySingle(ctx context.Context, s *canvas.Signature) (any, error) {
	if err := c.backend.InitState(ctx, s.ID, s.ParentID, s.GroupID); err != nil {
		return nil, err
	}
	started, err := c.backend.MarkStarted(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, &result.TaskFailureError{TaskID: s.ID, Message: "task was revoked"}
	}

	desc, err := c.registry.Resolve(s.Task)
	if err != nil {
		return nil, err
	}
	value, taskErr := runTask(ctx, desc.Fn, s.Args, s.Kwargs)
	if taskErr != nil {
		if err := c.backend.MarkFailure(ctx, s.ID, taskErr.Error()); err != nil {
			return nil, err
		}
		c.applyCallbacks(ctx, s.ID, s.OnError, []any{s.ID})
		return nil, &result.TaskFailureError{TaskID: s.ID, Message: taskErr.Error()}
	}
	if err := c.backend.MarkSuccess(ctx, s.ID, value); err != nil {
		return nil, err
	}
	c.applyCallbacks(ctx, s.ID, s.OnSuccess, []any{value})
	return value, nil
}

func (c *Client) applyChain(ctx context.Context, s *canvas.Signature) (any, error) {
	pushLinks(s)
	var value any
	for i, step := range s.Tasks {
		if i > 0 {
			step = step.WithArgs([]any{value}, nil, nil)
		}
		v, err := c.applyNode(ctx, step)
		if err != nil {
			return nil, err
		}
		value = v
	}
	return value, nil
}

// applyMembers runs the members in the index order and returns the
// values, a failed member's slot holds nil and its error is recorded.
// The first failure in the index order is returned as well, the
// remaining members still execute.
func (c *Client) applyMembers(ctx context.Context, s *canvas.Signature) ([]any, []error, error) {
	pushLinks(s)
	values := make([]any, len(s.Tasks))
	memberErrs := make([]error, len(s.Tasks))
	var firstErr error
	for i, member := range s.Tasks {
		member.Options = s.Options.Merge(member.Options)
		value, err := c.applyNode(ctx, member)
		values[i], memberErrs[i] = value, err
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return values, memberErrs, firstErr
}

func (c *Client) applyChord(ctx context.Context, s *canvas.Signature) (any, error) {
	bodyID := s.Body.ID
	if err := c.backend.InitState(ctx, bodyID, "", s.GroupID); err != nil {
		return nil, err
	}

	pushLinks(s)
	values, memberErrs, firstErr := c.applyMembers(ctx, &canvas.Signature{
		Kind:    canvas.KindGroup,
		Tasks:   s.Tasks,
		GroupID: s.GroupID,
	})

	if firstErr != nil {
		if s.Options.ChordPolicy(chordsync.DefaultPolicy) == canvas.ChordPolicyPropagate {
			if err := c.backend.MarkFailure(ctx, bodyID, firstErr.Error()); err != nil {
				return nil, err
			}
			return nil, &result.TaskFailureError{TaskID: bodyID, Message: firstErr.Error()}
		}
		for i, err := range memberErrs {
			if err != nil {
				tail := s.Tasks[i].TailLeaf()
				values[i] = backend.ErrorMarker{TaskID: tail.ID, Error: err.Error()}
			}
		}
	}

	return c.applyNode(ctx, s.Body.WithArgs([]any{values}, nil, nil))
}

// applyCallbacks runs linked callbacks inline. A callback failure does
// not change the outcome of the task that triggered it.
func (c *Client) applyCallbacks(ctx context.Context, parentID string, callbacks []*canvas.Signature, args []any) {
	for _, cb := range callbacks {
		child := cb.WithArgs(args, nil, nil)
		if err := child.Freeze(); err != nil {
			c.logger.Warnf(`cannot freeze callback of task "%s": %s`, parentID, err)
			continue
		}
		if tail := child.TailLeaf(); tail != nil {
			if err := c.backend.AddChild(ctx, parentID, tail.ID); err != nil {
				c.logger.Warnf(`cannot link child of task "%s": %s`, parentID, err)
			}
		}
		if _, err := c.applyNode(ctx, child); err != nil {
			c.logger.Warnf(`callback of task "%s" failed: %s`, parentID, err)
		}
	}
}

// runTask invokes the task function, a panic is converted to an error.
func runTask(ctx context.Context, fn registry.Fn, args []any, kwargs map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, errors.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, args, kwargs)
}
