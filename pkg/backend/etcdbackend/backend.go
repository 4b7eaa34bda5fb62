// Package etcdbackend implements the result backend on etcd.
// State transitions use compare-and-swap transactions keyed by the
// revision, so concurrent writers never lose updates, and the counter
// increment is linearizable, which selects the counter-based chord
// synchronization strategy.
package etcdbackend

import (
	"context"
	"strconv"

	"github.com/benbjohnson/clock"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/taskmesh/taskmesh/internal/pkg/encoding/json"
	"github.com/taskmesh/taskmesh/internal/pkg/utctime"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/backend"
)

const DefaultPrefix = "taskmesh"

type Backend struct {
	client *etcd.Client
	clock  clock.Clock
	prefix string
}

type Option func(*Backend)

// WithPrefix overrides the etcd key prefix, e.g. for tests.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

func New(client *etcd.Client, clk clock.Clock, opts ...Option) *Backend {
	b := &Backend{client: client, clock: clk, prefix: DefaultPrefix}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) stateKey(id string) string {
	return b.prefix + "/state/" + id
}

func (b *Backend) groupKey(groupID string) string {
	return b.prefix + "/group/" + groupID
}

func (b *Backend) counterKey(key string) string {
	return b.prefix + "/counter/" + key
}

func (b *Backend) InitState(ctx context.Context, id, parentID, groupID string) error {
	state := backend.State{
		ID:        id,
		Status:    backend.StatusPending,
		ParentID:  parentID,
		GroupID:   groupID,
		CreatedAt: utctime.From(b.clock.Now()),
	}
	key := b.stateKey(id)
	// Atomicity: re-dispatch of a known id keeps the existing state.
	_, err := b.client.Txn(ctx).
		If(etcd.Compare(etcd.Version(key), "=", 0)).
		Then(etcd.OpPut(key, json.MustEncodeString(state, false))).
		Commit()
	return err
}

func (b *Backend) MarkStarted(ctx context.Context, id string) (bool, error) {
	started := false
	err := b.updateState(ctx, id, func(state *backend.State) bool {
		if state.Status == backend.StatusRevoked || state.IsTerminal() {
			started = false
			return false
		}
		state.Status = backend.StatusStarted
		started = true
		return true
	})
	return started, err
}

func (b *Backend) MarkSuccess(ctx context.Context, id string, result any) error {
	return b.updateState(ctx, id, func(state *backend.State) bool {
		finishedAt := utctime.From(b.clock.Now())
		state.Status = backend.StatusSuccess
		state.Result = result
		state.Error = ""
		state.FinishedAt = &finishedAt
		return true
	})
}

func (b *Backend) MarkFailure(ctx context.Context, id string, errMsg string) error {
	return b.updateState(ctx, id, func(state *backend.State) bool {
		finishedAt := utctime.From(b.clock.Now())
		state.Status = backend.StatusFailure
		state.Error = errMsg
		state.FinishedAt = &finishedAt
		return true
	})
}

func (b *Backend) MarkRevoked(ctx context.Context, id string) (bool, error) {
	revoked := false
	err := b.updateState(ctx, id, func(state *backend.State) bool {
		if state.Status != backend.StatusPending {
			revoked = false
			return false
		}
		finishedAt := utctime.From(b.clock.Now())
		state.Status = backend.StatusRevoked
		state.FinishedAt = &finishedAt
		revoked = true
		return true
	})
	return revoked, err
}

func (b *Backend) MarkCounted(ctx context.Context, id string) (bool, error) {
	counted := false
	err := b.updateState(ctx, id, func(state *backend.State) bool {
		if state.Counted {
			counted = false
			return false
		}
		state.Counted = true
		counted = true
		return true
	})
	return counted, err
}

func (b *Backend) GetState(ctx context.Context, id string) (backend.State, error) {
	state, _, err := b.getState(ctx, id)
	return state, err
}

func (b *Backend) AddChild(ctx context.Context, parentID, childID string) error {
	return b.updateState(ctx, parentID, func(state *backend.State) bool {
		for _, existing := range state.ChildIDs {
			if existing == childID {
				return false
			}
		}
		state.ChildIDs = append(state.ChildIDs, childID)
		return true
	})
}

func (b *Backend) InitGroup(ctx context.Context, groupID string, memberIDs []string) error {
	_, err := b.client.Put(ctx, b.groupKey(groupID), json.MustEncodeString(memberIDs, false))
	return err
}

func (b *Backend) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	resp, err := b.client.Get(ctx, b.groupKey(groupID))
	if err != nil {
		return nil, err
	}
	if resp.Count == 0 {
		return nil, errors.Errorf(`group "%s" not found`, groupID)
	}
	var out []string
	if err := json.Decode(resp.Kvs[0].Value, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AtomicIncrement implements the backend.Counter capability.
// The increment retries on a revision conflict, every committed
// transaction observes and writes a unique total.
func (b *Backend) AtomicIncrement(ctx context.Context, key string) (int64, error) {
	etcdKey := b.counterKey(key)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		resp, err := b.client.Get(ctx, etcdKey)
		if err != nil {
			return 0, err
		}

		var current int64
		var cmp etcd.Cmp
		if resp.Count == 0 {
			cmp = etcd.Compare(etcd.Version(etcdKey), "=", 0)
		} else {
			current, err = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
			if err != nil {
				return 0, errors.PrefixErrorf(err, `counter "%s" has an unexpected value`, key)
			}
			cmp = etcd.Compare(etcd.ModRevision(etcdKey), "=", resp.Kvs[0].ModRevision)
		}

		next := current + 1
		txnResp, err := b.client.Txn(ctx).
			If(cmp).
			Then(etcd.OpPut(etcdKey, strconv.FormatInt(next, 10))).
			Commit()
		if err != nil {
			return 0, err
		}
		if txnResp.Succeeded {
			return next, nil
		}
		// Lost the race, retry against the new revision.
	}
}

func (b *Backend) DeleteCounter(ctx context.Context, key string) error {
	_, err := b.client.Delete(ctx, b.counterKey(key))
	return err
}

func (b *Backend) getState(ctx context.Context, id string) (backend.State, int64, error) {
	resp, err := b.client.Get(ctx, b.stateKey(id))
	if err != nil {
		return backend.State{}, 0, err
	}
	if resp.Count == 0 {
		// An unknown id reads as pending.
		return backend.State{ID: id, Status: backend.StatusPending}, 0, nil
	}
	var state backend.State
	if err := json.Decode(resp.Kvs[0].Value, &state); err != nil {
		return backend.State{}, 0, err
	}
	return state, resp.Kvs[0].ModRevision, nil
}

// updateState applies the modifier to the current state and writes it back
// with a compare-and-swap on the key revision, retrying on conflicts.
// The modifier returns false to skip the write.
func (b *Backend) updateState(ctx context.Context, id string, modify func(*backend.State) bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		state, revision, err := b.getState(ctx, id)
		if err != nil {
			return err
		}
		if !modify(&state) {
			return nil
		}

		key := b.stateKey(id)
		var cmp etcd.Cmp
		if revision == 0 {
			cmp = etcd.Compare(etcd.Version(key), "=", 0)
		} else {
			cmp = etcd.Compare(etcd.ModRevision(key), "=", revision)
		}
		resp, err := b.client.Txn(ctx).
			If(cmp).
			Then(etcd.OpPut(key, json.MustEncodeString(state, false))).
			Commit()
		if err != nil {
			return err
		}
		if resp.Succeeded {
			return nil
		}
		// Lost the race, retry against the new revision.
	}
}
