package backend

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/internal/pkg/utctime"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

// Memory is an in-process reference implementation of the Backend and
// Counter contracts, used by local execution and in tests.
type Memory struct {
	clock    clock.Clock
	lock     *sync.RWMutex
	states   map[string]State
	groups   map[string][]string
	counters map[string]int64
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:    clk,
		lock:     &sync.RWMutex{},
		states:   make(map[string]State),
		groups:   make(map[string][]string),
		counters: make(map[string]int64),
	}
}

func (b *Memory) InitState(_ context.Context, id, parentID, groupID string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, found := b.states[id]; found {
		// Re-dispatch of a known id keeps the existing state.
		return nil
	}
	b.states[id] = State{
		ID:        id,
		Status:    StatusPending,
		ParentID:  parentID,
		GroupID:   groupID,
		CreatedAt: utctime.From(b.clock.Now()),
	}
	return nil
}

func (b *Memory) MarkStarted(_ context.Context, id string) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.stateOf(id)
	if state.Status == StatusRevoked {
		return false, nil
	}
	if state.IsTerminal() {
		return false, nil
	}
	state.Status = StatusStarted
	b.states[id] = state
	return true, nil
}

func (b *Memory) MarkSuccess(_ context.Context, id string, result any) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.stateOf(id)
	finishedAt := utctime.From(b.clock.Now())
	state.Status = StatusSuccess
	state.Result = result
	state.Error = ""
	state.FinishedAt = &finishedAt
	b.states[id] = state
	return nil
}

func (b *Memory) MarkFailure(_ context.Context, id string, errMsg string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.stateOf(id)
	finishedAt := utctime.From(b.clock.Now())
	state.Status = StatusFailure
	state.Error = errMsg
	state.FinishedAt = &finishedAt
	b.states[id] = state
	return nil
}

func (b *Memory) MarkRevoked(_ context.Context, id string) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.stateOf(id)
	if state.Status != StatusPending {
		return false, nil
	}
	finishedAt := utctime.From(b.clock.Now())
	state.Status = StatusRevoked
	state.FinishedAt = &finishedAt
	b.states[id] = state
	return true, nil
}

func (b *Memory) MarkCounted(_ context.Context, id string) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.stateOf(id)
	if state.Counted {
		return false, nil
	}
	state.Counted = true
	b.states[id] = state
	return true, nil
}

func (b *Memory) GetState(_ context.Context, id string) (State, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.stateOf(id), nil
}

func (b *Memory) AddChild(_ context.Context, parentID, childID string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	state := b.stateOf(parentID)
	for _, id := range state.ChildIDs {
		if id == childID {
			return nil
		}
	}
	state.ChildIDs = append(state.ChildIDs, childID)
	b.states[parentID] = state
	return nil
}

func (b *Memory) InitGroup(_ context.Context, groupID string, memberIDs []string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	out := make([]string, len(memberIDs))
	copy(out, memberIDs)
	b.groups[groupID] = out
	return nil
}

func (b *Memory) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	members, found := b.groups[groupID]
	if !found {
		return nil, errors.Errorf(`group "%s" not found`, groupID)
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

func (b *Memory) AtomicIncrement(_ context.Context, key string) (int64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.counters[key]++
	return b.counters[key], nil
}

func (b *Memory) DeleteCounter(_ context.Context, key string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.counters, key)
	return nil
}

// stateOf returns the stored state, or an implicit pending state for an unknown id.
func (b *Memory) stateOf(id string) State {
	if state, found := b.states[id]; found {
		return state
	}
	return State{ID: id, Status: StatusPending}
}
