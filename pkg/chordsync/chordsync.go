// Package chordsync decides when a chord's body fires. It provides two
// interchangeable strategies: a polling check task re-dispatched at a
// fixed interval, and an atomic counter incremented on every header
// member completion. The strategy is selected by the capability of the
// result backend, the engine holds no locks of its own.
package chordsync

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/pkg/log"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/broker"
	"github.com/taskmesh/taskmesh/pkg/canvas"
)

const (
	// DefaultInterval is the polling strategy check interval.
	DefaultInterval = time.Second
	// DefaultPolicy collects failed members' error markers into the
	// body's argument list instead of aborting the chord.
	DefaultPolicy = canvas.ChordPolicyCollect
)

// Mode selects the synchronization strategy.
type Mode string

const (
	// ModeAuto selects the counter strategy if the backend provides
	// the Counter capability, and falls back to polling otherwise.
	ModeAuto    Mode = "auto"
	ModePolling Mode = "polling"
	ModeCounter Mode = "counter"
)

// Dispatcher dispatches a frozen signature, it is implemented by the
// client and injected, so composite chord bodies dispatch correctly.
type Dispatcher interface {
	DispatchSignature(ctx context.Context, sig *canvas.Signature) error
}

// Dependencies of the engine, implemented by the wiring layer.
type Dependencies interface {
	Logger() log.Logger
	Backend() backend.Backend
	Broker() broker.Broker
	Dispatcher() Dispatcher
}

// Strategy is the common contract of both synchronization strategies.
// Both guarantee that the body executes at most once per chord, and at
// least once after every header member reached a terminal state.
type Strategy interface {
	// OnChordDispatch is invoked once, after the chord's header members
	// have been frozen and the group record stored in the backend.
	OnChordDispatch(ctx context.Context, chord *Chord) error
	// OnMemberTerminal is invoked by the worker after a header member's
	// terminal state was recorded.
	OnMemberTerminal(ctx context.Context, member *canvas.Signature) error
}

// Chord describes one dispatched chord.
type Chord struct {
	GroupID     string
	Cardinality int
	Body        *canvas.Signature
	Policy      string
	Interval    time.Duration
	MaxRetries  int
	// HasMaxRetries distinguishes "no bound" from a zero bound.
	HasMaxRetries bool
}

// ChordSyncExhaustedError is the terminal failure of the polling
// strategy: the retry bound elapsed before the header completed.
type ChordSyncExhaustedError struct {
	GroupID string
	Retries int
}

func (e *ChordSyncExhaustedError) Error() string {
	return fmt.Sprintf(`chord "%s" synchronization gave up after %d checks, header is still not finished`, e.GroupID, e.Retries)
}

type Config struct {
	Mode Mode
}

// Engine wraps the selected strategy.
type Engine struct {
	deps     Dependencies
	strategy Strategy
}

func NewEngine(cfg Config, d Dependencies) *Engine {
	e := &Engine{deps: d}
	switch cfg.Mode {
	case ModePolling:
		e.strategy = newPolling(d)
	case ModeCounter:
		e.strategy = newCounter(d)
	default:
		if _, ok := d.Backend().(backend.Counter); ok {
			e.strategy = newCounter(d)
		} else {
			e.strategy = newPolling(d)
		}
	}
	return e
}

func (e *Engine) Strategy() Strategy {
	return e.strategy
}

func (e *Engine) OnChordDispatch(ctx context.Context, chord *Chord) error {
	return e.strategy.OnChordDispatch(ctx, chord)
}

func (e *Engine) OnMemberTerminal(ctx context.Context, member *canvas.Signature) error {
	return e.strategy.OnMemberTerminal(ctx, member)
}

// fireBody collects the header results in the group index order and
// dispatches the body, or fails it, per the header-failure policy.
// Callers must guarantee it runs at most once per chord.
func fireBody(ctx context.Context, d Dependencies, groupID string, body *canvas.Signature, policy string) error {
	store := d.Backend()
	memberIDs, err := store.GroupMembers(ctx, groupID)
	if err != nil {
		return err
	}

	values := make([]any, len(memberIDs))
	for i, id := range memberIDs {
		state, err := store.GetState(ctx, id)
		if err != nil {
			return err
		}
		if !state.IsTerminal() {
			return errors.Errorf(`cannot fire chord "%s" body: member "%s" is not finished`, groupID, id)
		}
		if state.IsSuccessful() {
			values[i] = state.Result
		} else {
			if policy == canvas.ChordPolicyPropagate {
				d.Logger().Infof(`chord "%s" failed, member "%s" failed and the policy is "propagate"`, groupID, id)
				return store.MarkFailure(ctx, body.ID, state.Error)
			}
			values[i] = backend.ErrorMarker{TaskID: id, Error: state.Error}
		}
	}

	// The body receives the ordered result list as one prepended
	// argument, an immutable body receives no arguments.
	call := body.WithArgs([]any{values}, nil, nil)
	return d.Dispatcher().DispatchSignature(ctx, call)
}

func chordCounterKey(groupID string) string {
	return "chord/" + groupID
}
