package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/chordsync"
	"github.com/taskmesh/taskmesh/pkg/result"
)

// DefaultDeliveryRetries bounds the delivery retries when the retry
// option is set without an explicit max_retries.
const DefaultDeliveryRetries = 3

// ApplyAsync merges the call extras into the signature, validates and
// freezes the tree, and dispatches it. The handle addresses the final
// result: the last step of a chain, the body of a chord, or the member
// set of a group.
func (c *Client) ApplyAsync(ctx context.Context, sig *canvas.Signature, call Call) (result.Handle, error) {
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
	return c.dispatch(ctx, working)
}

// Delay is the one-line dispatch of a single task by name.
func (c *Client) Delay(ctx context.Context, task string, args ...any) (*result.AsyncResult, error) {
	handle, err := c.ApplyAsync(ctx, canvas.NewSignature(task, args, nil), Call{})
	if err != nil {
		return nil, err
	}
	return handle.(*result.AsyncResult), nil
}

func (c *Client) dispatchFrozen(ctx context.Context, s *canvas.Signature) (result.Handle, error) {
	if err := s.Freeze(); err != nil {
		return nil, err
	}
	return c.dispatch(ctx, s)
}

// checkTasks resolves every leaf task name before anything is enqueued,
// an unknown name fails the whole dispatch up front.
func (c *Client) checkTasks(s *canvas.Signature) error {
	var err error
	s.Walk(func(node *canvas.Signature) {
		if err != nil || node.Kind != canvas.KindSingle {
			return
		}
		if _, resolveErr := c.registry.Resolve(node.Task); resolveErr != nil {
			err = resolveErr
		}
	})
	return err
}

func (c *Client) dispatch(ctx context.Context, s *canvas.Signature) (result.Handle, error) {
	switch s.Kind {
	case canvas.KindSingle:
		return c.dispatchSingle(ctx, s)
	case canvas.KindChain:
		return c.dispatchChain(ctx, s)
	case canvas.KindGroup:
		return c.dispatchGroup(ctx, s)
	case canvas.KindChord:
		return c.dispatchChord(ctx, s)
	default:
		return nil, errors.Errorf(`unexpected signature kind "%s"`, s.Kind)
	}
}

func (c *Client) dispatchSingle(ctx context.Context, s *canvas.Signature) (*result.AsyncResult, error) {
	if err := c.backend.InitState(ctx, s.ID, s.ParentID, s.GroupID); err != nil {
		return nil, err
	}
	if err := c.enqueue(ctx, s); err != nil {
		return nil, err
	}
	c.logger.Debugf(`dispatched task "%s" as "%s"`, s.Task, s.ID)
	var parent *result.AsyncResult
	if s.ParentID != "" {
		parent = c.asyncResult(s.ParentID, nil)
	}
	return c.asyncResult(s.ID, parent), nil
}

// enqueue hands the message to the broker, with exponential backoff
// when the retry option is set.
func (c *Client) enqueue(ctx context.Context, s *canvas.Signature) error {
	if !s.Options.Retry() {
		return c.broker.Enqueue(ctx, s)
	}

	retries := uint64(DefaultDeliveryRetries)
	if s.Options.HasMaxRetries() {
		maxRetries, err := s.Options.MaxRetries()
		if err != nil {
			return err
		}
		retries = uint64(maxRetries)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by the retry count
	return backoff.Retry(
		func() error {
			err := c.broker.Enqueue(ctx, s)
			if err != nil {
				c.logger.Warnf(`cannot deliver task "%s", retrying: %s`, s.ID, err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx),
	)
}

// dispatchChain enqueues only the first step. Each step's tail leaf
// carries the following step as a success callback, so the worker
// drives the chain forward, the client is not involved after dispatch.
func (c *Client) dispatchChain(ctx context.Context, s *canvas.Signature) (result.Handle, error) {
	pushLinks(s)
	steps := s.Tasks
	for i := 0; i+1 < len(steps); i++ {
		tail := steps[i].TailLeaf()
		if tail == nil {
			return nil, errors.New("chain step has no tail task, wrap the group in a chord")
		}
		tail.OnSuccess = append(tail.OnSuccess, steps[i+1])
	}

	// Chain-level options constrain the initial dispatch.
	steps[0].Options = s.Options.Merge(steps[0].Options)

	// The handle of each step's tail is the parent of the next one.
	var handle *result.AsyncResult
	for _, step := range steps {
		if tail := step.TailLeaf(); tail != nil {
			handle = c.asyncResult(tail.ID, handle)
		}
	}

	// A chain can end in a plain group, only a group followed by more
	// work is upgraded to a chord. Such a chain yields a group handle.
	var groupHandle *result.GroupResult
	if last := steps[len(steps)-1]; last.Kind == canvas.KindGroup {
		members := make([]*result.AsyncResult, len(last.Tasks))
		for i, member := range last.Tasks {
			tail := member.TailLeaf()
			if tail == nil {
				return nil, errors.Errorf("group member %d has no tail task, wrap the nested group in a chord", i)
			}
			members[i] = c.asyncResult(tail.ID, handle)
		}
		groupHandle = c.groupResult(last.GroupID, members)
	}

	if _, err := c.dispatch(ctx, steps[0]); err != nil {
		return nil, err
	}
	if groupHandle != nil {
		return groupHandle, nil
	}
	return handle, nil
}

func (c *Client) dispatchGroup(ctx context.Context, s *canvas.Signature) (*result.GroupResult, error) {
	pushLinks(s)
	memberIDs := make([]string, len(s.Tasks))
	members := make([]*result.AsyncResult, len(s.Tasks))
	for i, member := range s.Tasks {
		tail := member.TailLeaf()
		if tail == nil {
			return nil, errors.Errorf("group member %d has no tail task, wrap the nested group in a chord", i)
		}
		memberIDs[i] = tail.ID
		members[i] = c.asyncResult(tail.ID, nil)
	}

	// The group record must exist before any member can finish.
	if err := c.backend.InitGroup(ctx, s.GroupID, memberIDs); err != nil {
		return nil, err
	}
	for i, member := range s.Tasks {
		member.Options = s.Options.Merge(member.Options)
		if _, err := c.dispatch(ctx, member); err != nil {
			return nil, errors.PrefixErrorf(err, "cannot dispatch group member %d", i)
		}
	}
	c.logger.Debugf(`dispatched group "%s" with %d members`, s.GroupID, len(members))
	return c.groupResult(s.GroupID, members), nil
}

func (c *Client) dispatchChord(ctx context.Context, s *canvas.Signature) (*result.AsyncResult, error) {
	pushLinks(s)
	bodyID := s.Body.ID

	memberIDs := make([]string, len(s.Tasks))
	for i, member := range s.Tasks {
		tail := member.TailLeaf()
		if tail == nil {
			return nil, errors.Errorf("chord header member %d has no tail task, wrap the nested group in a chord", i)
		}
		memberIDs[i] = tail.ID
		// The counter strategy reads the policy from the member message.
		if policy, ok := s.Options[canvas.OptChordPolicy]; ok {
			tail.Options = tail.Options.Merge(canvas.Options{canvas.OptChordPolicy: policy})
		}
	}

	// The body record and the group record must exist before the header
	// runs, a member may finish immediately after its dispatch.
	if err := c.backend.InitState(ctx, bodyID, "", s.GroupID); err != nil {
		return nil, err
	}
	if err := c.backend.InitGroup(ctx, s.GroupID, memberIDs); err != nil {
		return nil, err
	}

	chord, err := c.chordOf(s)
	if err != nil {
		return nil, err
	}
	if err := c.engine.OnChordDispatch(ctx, chord); err != nil {
		return nil, err
	}

	for i, member := range s.Tasks {
		if _, err := c.dispatch(ctx, member); err != nil {
			return nil, errors.PrefixErrorf(err, "cannot dispatch chord header member %d", i)
		}
	}
	c.logger.Debugf(`dispatched chord "%s" with %d header members`, s.GroupID, len(memberIDs))
	return c.asyncResult(bodyID, nil), nil
}

func (c *Client) chordOf(s *canvas.Signature) (*chordsync.Chord, error) {
	interval, err := s.Options.Interval()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = chordsync.DefaultInterval
	}
	maxRetries, err := s.Options.MaxRetries()
	if err != nil {
		return nil, err
	}
	return &chordsync.Chord{
		GroupID:       s.GroupID,
		Cardinality:   len(s.Tasks),
		Body:          s.Body,
		Policy:        s.Options.ChordPolicy(chordsync.DefaultPolicy),
		Interval:      interval,
		MaxRetries:    maxRetries,
		HasMaxRetries: s.Options.HasMaxRetries(),
	}, nil
}

// pushLinks moves composite-level callbacks down to the leaves whose
// outcomes decide the composite's outcome: success callbacks to the
// tail (or to every group member), failure callbacks to every leaf.
func pushLinks(s *canvas.Signature) {
	if s.Kind == canvas.KindSingle {
		return
	}
	if len(s.OnSuccess) > 0 {
		if tail := s.TailLeaf(); tail != nil {
			tail.OnSuccess = append(tail.OnSuccess, s.OnSuccess...)
		} else {
			for _, member := range s.Tasks {
				if tail := member.TailLeaf(); tail != nil {
					for _, cb := range s.OnSuccess {
						tail.OnSuccess = append(tail.OnSuccess, cb.Clone())
					}
				}
			}
		}
		s.OnSuccess = nil
	}
	if len(s.OnError) > 0 {
		for _, cb := range s.OnError {
			for _, member := range s.Tasks {
				linkErrorDeep(member, cb)
			}
			if s.Body != nil {
				linkErrorDeep(s.Body, cb)
			}
		}
		s.OnError = nil
	}
}

// linkErrorDeep attaches the failure callback to every leaf of the
// signature, a failure anywhere in the composite triggers it.
func linkErrorDeep(s *canvas.Signature, cb *canvas.Signature) {
	switch s.Kind {
	case canvas.KindSingle:
		s.OnError = append(s.OnError, cb.Clone())
	case canvas.KindChord:
		for _, member := range s.Tasks {
			linkErrorDeep(member, cb)
		}
		linkErrorDeep(s.Body, cb)
	default:
		for _, member := range s.Tasks {
			linkErrorDeep(member, cb)
		}
	}
}
