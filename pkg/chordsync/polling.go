package chordsync

import (
	"context"

	"github.com/spf13/cast"

	"github.com/taskmesh/taskmesh/internal/pkg/idgenerator"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/registry"
)

// polling re-dispatches a check task at a fixed interval until every
// header member is terminal, bounded by an optional retry count.
// A re-dispatched task, not an in-process sleep loop: the worker stays
// responsive between checks, at the cost of polling latency and backend
// load. Used when the backend lacks an atomic increment primitive.
type polling struct {
	deps Dependencies
}

func newPolling(d Dependencies) *polling {
	return &polling{deps: d}
}

func (s *polling) OnChordDispatch(ctx context.Context, chord *Chord) error {
	bodyMap, err := chord.Body.ToMap()
	if err != nil {
		return err
	}
	unlock := &canvas.Signature{
		Kind: canvas.KindSingle,
		Task: canvas.BuiltinChordUnlock,
		Kwargs: map[string]any{
			"group_id":        chord.GroupID,
			"body":            bodyMap,
			"policy":          chord.Policy,
			"interval":        chord.Interval.Seconds(),
			"max_retries":     chord.MaxRetries,
			"has_max_retries": chord.HasMaxRetries,
			"retries":         0,
		},
		ID: idgenerator.TaskID(),
	}
	// The first check runs after one interval, the header members have
	// just been enqueued.
	unlock.Options = canvas.Options{canvas.OptCountdown: chord.Interval.Seconds()}
	return s.deps.Broker().Enqueue(ctx, unlock)
}

func (s *polling) OnMemberTerminal(context.Context, *canvas.Signature) error {
	// Member completions are observed by the check task.
	return nil
}

// UnlockTask returns the descriptor of the chord check control task.
// The worker registers it, its state is not recorded in the backend.
func (e *Engine) UnlockTask() registry.Descriptor {
	return registry.Descriptor{
		Name: canvas.BuiltinChordUnlock,
		Fn: func(ctx context.Context, _ []any, kwargs map[string]any) (any, error) {
			return e.runUnlock(ctx, kwargs)
		},
	}
}

func (e *Engine) runUnlock(ctx context.Context, kwargs map[string]any) (any, error) {
	groupID := cast.ToString(kwargs["group_id"])
	bodyMap, _ := kwargs["body"].(map[string]any)
	if groupID == "" || bodyMap == nil {
		return nil, errors.New("chord unlock task requires group_id and body kwargs")
	}
	body, err := canvas.SignatureFromMap(bodyMap)
	if err != nil {
		return nil, err
	}
	policy := cast.ToString(kwargs["policy"])
	retries := cast.ToInt(kwargs["retries"])

	store := e.deps.Backend()
	memberIDs, err := store.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ready := true
	for _, id := range memberIDs {
		state, err := store.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if !state.IsTerminal() {
			ready = false
			break
		}
	}

	if ready {
		if err := fireBody(ctx, e.deps, groupID, body, policy); err != nil {
			return nil, err
		}
		return "chord body dispatched", nil
	}

	// Not ready, reschedule the check with the same interval.
	retries++
	if cast.ToBool(kwargs["has_max_retries"]) && retries > cast.ToInt(kwargs["max_retries"]) {
		syncErr := &ChordSyncExhaustedError{GroupID: groupID, Retries: retries - 1}
		if err := store.MarkFailure(ctx, body.ID, syncErr.Error()); err != nil {
			return nil, err
		}
		return nil, syncErr
	}

	next := &canvas.Signature{
		Kind:    canvas.KindSingle,
		Task:    canvas.BuiltinChordUnlock,
		Kwargs:  mergeUnlockKwargs(kwargs, retries),
		Options: canvas.Options{canvas.OptCountdown: cast.ToFloat64(kwargs["interval"])},
		ID:      idgenerator.TaskID(),
	}
	if err := e.deps.Broker().Enqueue(ctx, next); err != nil {
		return nil, err
	}
	return "chord not ready, check rescheduled", nil
}

func mergeUnlockKwargs(kwargs map[string]any, retries int) map[string]any {
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = v
	}
	out["retries"] = retries
	return out
}
