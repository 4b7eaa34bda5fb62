// Package worker consumes leaf task messages from the broker, executes
// the registered task functions and records the outcomes in the result
// backend. It also drives the pieces that keep workflows moving: the
// success/error callbacks and the chord member-completion hook.
package worker

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/internal/pkg/log"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/internal/pkg/validator"
	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/broker"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/chordsync"
	"github.com/taskmesh/taskmesh/pkg/registry"
	"github.com/taskmesh/taskmesh/pkg/result"
)

const DefaultConcurrency = 8

type dependencies interface {
	Logger() log.Logger
	Clock() clock.Clock
	Registry() *registry.Registry
	Backend() backend.Backend
}

// Node is one worker process: a fixed pool of executor goroutines fed
// from the broker queue.
type Node struct {
	logger      log.Logger
	clock       clock.Clock
	registry    *registry.Registry
	backend     backend.Backend
	validator   validator.Validator
	dispatcher  chordsync.Dispatcher
	engine      *chordsync.Engine
	source      broker.Consumer
	concurrency int

	// inflight holds the task ids currently executing on this node, so
	// a duplicate delivery of the same id does not run concurrently.
	inflight       *sync.Map
	succeededCount *atomic.Int64
	failedCount    *atomic.Int64
}

type Option func(*Node)

func WithConcurrency(n int) Option {
	return func(w *Node) {
		w.concurrency = n
	}
}

// NewNode creates a worker. The dispatcher is the client, it dispatches
// callbacks and chord bodies, the engine is the client's chord engine.
func NewNode(d dependencies, source broker.Consumer, dispatcher chordsync.Dispatcher, engine *chordsync.Engine, opts ...Option) *Node {
	w := &Node{
		logger:         d.Logger().AddPrefix("[worker]"),
		clock:          d.Clock(),
		registry:       d.Registry(),
		backend:        d.Backend(),
		validator:      validator.New(),
		dispatcher:     dispatcher,
		engine:         engine,
		source:         source,
		concurrency:    DefaultConcurrency,
		inflight:       &sync.Map{},
		succeededCount: atomic.NewInt64(0),
		failedCount:    atomic.NewInt64(0),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start runs the executor pool until the context is cancelled or the
// broker queue is closed. Task failures are recorded in the backend and
// logged, they do not stop the node.
func (w *Node) Start(ctx context.Context) error {
	w.logger.Infof("starting %d executors", w.concurrency)
	grp := &errgroup.Group{}
	for i := 0; i < w.concurrency; i++ {
		grp.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-w.source.Queue():
					if !ok {
						return nil
					}
					if err := w.Process(ctx, msg); err != nil {
						w.logger.Warnf(`task "%s" ("%s") failed: %s`, msg.ID, msg.Task, err)
					}
				}
			}
		})
	}
	err := grp.Wait()
	w.logger.Infof("all executors stopped, %d tasks succeeded, %d failed", w.succeededCount.Load(), w.failedCount.Load())
	return err
}

// Succeeded returns the count of tasks this node finished successfully.
func (w *Node) Succeeded() int64 {
	return w.succeededCount.Load()
}

// Failed returns the count of tasks this node finished with a failure.
func (w *Node) Failed() int64 {
	return w.failedCount.Load()
}

// Process executes one leaf message to completion, including its
// callbacks and the chord hook. The returned error reports the task
// outcome, the backend record is already written when it is returned.
func (w *Node) Process(ctx context.Context, msg *canvas.Signature) error {
	if msg.Kind != canvas.KindSingle {
		return errors.Errorf(`unexpected composite message "%s", only leaf signatures cross the broker`, msg.ID)
	}
	if err := w.validator.Validate(ctx, msg); err != nil {
		return errors.PrefixErrorf(err, `invalid message "%s"`, msg.ID)
	}

	// Control tasks run outside the result bookkeeping, their
	// re-dispatched instances must not collide on state records.
	if msg.Task == canvas.BuiltinChordUnlock {
		return w.runControlTask(ctx, msg)
	}

	// At-least-once delivery: a duplicate of a running task is dropped,
	// the running execution records the outcome.
	if _, loaded := w.inflight.LoadOrStore(msg.ID, struct{}{}); loaded {
		w.logger.Debugf(`task "%s" is already running on this node, duplicate delivery skipped`, msg.ID)
		return nil
	}
	defer w.inflight.Delete(msg.ID)

	started, err := w.backend.MarkStarted(ctx, msg.ID)
	if err != nil {
		return err
	}
	if !started {
		// Revoked, or a redelivery of a finished task. Terminal either
		// way, the chord accounting must see it exactly once.
		w.logger.Infof(`task "%s" is revoked or already finished, skipping execution`, msg.ID)
		return w.memberTerminal(ctx, msg)
	}

	desc, err := w.registry.Resolve(msg.Task)
	if err != nil {
		// Unknown name on the consuming side, mark it so waiters are
		// not stuck forever.
		if markErr := w.backend.MarkFailure(ctx, msg.ID, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	value, taskErr := runTask(ctx, desc.Fn, msg.Args, msg.Kwargs)
	if taskErr != nil {
		return w.finishFailed(ctx, msg, taskErr)
	}
	return w.finishSucceeded(ctx, msg, value)
}

func (w *Node) finishSucceeded(ctx context.Context, msg *canvas.Signature, value any) error {
	if err := w.backend.MarkSuccess(ctx, msg.ID, value); err != nil {
		return err
	}
	w.succeededCount.Inc()
	w.logger.Debugf(`task "%s" ("%s") succeeded`, msg.ID, msg.Task)
	w.dispatchCallbacks(ctx, msg.ID, msg.OnSuccess, []any{value})
	return w.memberTerminal(ctx, msg)
}

func (w *Node) finishFailed(ctx context.Context, msg *canvas.Signature, taskErr error) error {
	if err := w.backend.MarkFailure(ctx, msg.ID, taskErr.Error()); err != nil {
		return err
	}
	w.failedCount.Inc()
	// Error callbacks receive the failed task id as the only argument,
	// the error detail is read from the backend.
	w.dispatchCallbacks(ctx, msg.ID, msg.OnError, []any{msg.ID})
	if err := w.memberTerminal(ctx, msg); err != nil {
		return err
	}
	return &result.TaskFailureError{TaskID: msg.ID, Message: taskErr.Error()}
}

// memberTerminal notifies the chord engine about a terminal header
// member. A plain task without chord accounting is a no-op. Delivery is
// at-least-once, so the notification is gated by a one-way backend
// transition: only the first delivery of a terminal member counts.
func (w *Node) memberTerminal(ctx context.Context, msg *canvas.Signature) error {
	if msg.GroupID == "" || msg.ChordCallback == nil {
		return nil
	}
	counted, err := w.backend.MarkCounted(ctx, msg.ID)
	if err != nil {
		return err
	}
	if !counted {
		w.logger.Debugf(`member "%s" is already counted, duplicate notification skipped`, msg.ID)
		return nil
	}
	if err := w.engine.OnMemberTerminal(ctx, msg); err != nil {
		return errors.PrefixErrorf(err, `chord synchronization failed for member "%s"`, msg.ID)
	}
	return nil
}

// dispatchCallbacks freezes and dispatches linked callbacks and records
// the parent/child relation. A callback dispatch failure is logged, it
// does not change the parent task's outcome.
func (w *Node) dispatchCallbacks(ctx context.Context, parentID string, callbacks []*canvas.Signature, args []any) {
	for _, cb := range callbacks {
		child := cb.WithArgs(args, nil, nil)
		if err := child.Freeze(); err != nil {
			w.logger.Errorf(`cannot freeze callback of task "%s": %s`, parentID, err)
			continue
		}
		if tail := child.TailLeaf(); tail != nil {
			if err := w.backend.AddChild(ctx, parentID, tail.ID); err != nil {
				w.logger.Errorf(`cannot link child of task "%s": %s`, parentID, err)
			}
		}
		if err := w.dispatcher.DispatchSignature(ctx, child); err != nil {
			w.logger.Errorf(`cannot dispatch callback of task "%s": %s`, parentID, err)
		}
	}
}

func (w *Node) runControlTask(ctx context.Context, msg *canvas.Signature) error {
	desc, err := w.registry.Resolve(msg.Task)
	if err != nil {
		return err
	}
	if _, err := runTask(ctx, desc.Fn, msg.Args, msg.Kwargs); err != nil {
		return errors.PrefixErrorf(err, `control task "%s" failed`, msg.Task)
	}
	return nil
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
