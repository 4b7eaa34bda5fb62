package result

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

// DependencyGraph captures the parent -> child relation of dispatched
// tasks, as established by linking. It is built lazily from the backend
// records, links only point forward, so the graph is acyclic.
type DependencyGraph struct {
	root  string
	nodes []string
	edges map[string][]string
}

// DependencyGraphOf walks the parent chain of the result up to the root
// and then the children relation down, and returns the reachable graph.
func DependencyGraphOf(ctx context.Context, res *AsyncResult) (*DependencyGraph, error) {
	// Climb to the topmost ancestor.
	rootID := res.ID()
	visited := map[string]bool{rootID: true}
	for {
		state, err := res.backend.GetState(ctx, rootID)
		if err != nil {
			return nil, err
		}
		if state.ParentID == "" || visited[state.ParentID] {
			break
		}
		rootID = state.ParentID
		visited[rootID] = true
	}

	// Walk the children relation, breadth-first.
	g := &DependencyGraph{root: rootID, edges: make(map[string][]string)}
	visited = map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.nodes = append(g.nodes, id)

		state, err := res.backend.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, childID := range state.ChildIDs {
			if visited[childID] {
				continue
			}
			visited[childID] = true
			g.edges[id] = append(g.edges[id], childID)
			queue = append(queue, childID)
		}
	}
	return g, nil
}

func (g *DependencyGraph) Root() string {
	return g.root
}

// Nodes returns the task ids in breadth-first order from the root.
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Children returns the ids of tasks dispatched by the task's callbacks.
func (g *DependencyGraph) Children(id string) []string {
	out := make([]string, len(g.edges[id]))
	copy(out, g.edges[id])
	return out
}

// CollectItem is one yielded node of a graph walk.
type CollectItem struct {
	ID    string
	Value any
	// Pending is true for a not yet terminal node in the intermediate mode.
	Pending bool
	// Err is the node's failure, nil otherwise.
	Err error
}

// Collector walks the dependency graph of a result and reads each
// node's value. It is lazy, finite and non-restartable. A new Collect
// call re-walks the graph from the current backend state.
type Collector struct {
	ctx          context.Context
	res          *AsyncResult
	intermediate bool
	graph        *DependencyGraph
	position     int
	current      CollectItem
	started      bool
	err          error
}

// Collect returns a walk over the result's dependency graph.
// Without the intermediate mode, the walk fails with
// IncompleteStreamError when it reaches a non-terminal node.
// With it, such nodes are yielded as pending markers instead.
func (r *AsyncResult) Collect(ctx context.Context, intermediate bool) *Collector {
	return &Collector{ctx: ctx, res: r, intermediate: intermediate}
}

// Next returns true if there is a next node.
// False is returned if the walk is done or an error occurred.
func (v *Collector) Next() bool {
	if v.err != nil {
		return false
	}
	if v.graph == nil {
		v.graph, v.err = DependencyGraphOf(v.ctx, v.res)
		if v.err != nil {
			return false
		}
	}
	if v.position >= len(v.graph.nodes) {
		return false
	}

	id := v.graph.nodes[v.position]
	v.position++

	state, err := v.res.backend.GetState(v.ctx, id)
	if err != nil {
		v.err = err
		return false
	}

	item := CollectItem{ID: id}
	switch {
	case !state.IsTerminal():
		if !v.intermediate {
			v.err = &IncompleteStreamError{TaskID: id}
			return false
		}
		item.Pending = true
	case state.IsSuccessful():
		item.Value = state.Result
	default:
		item.Err = &TaskFailureError{TaskID: state.ID, Message: state.Error}
	}

	v.current = item
	v.started = true
	return true
}

// Value returns the current node.
// It must be called after the Next method.
func (v *Collector) Value() CollectItem {
	if !v.started {
		panic(errors.New("unexpected Value() call: Next() must be called first"))
	}
	return v.current
}

// Err returns error. It must be checked after the walk (Next() == false).
func (v *Collector) Err() error {
	return v.err
}

// All consumes the rest of the walk into a slice.
func (v *Collector) All() ([]CollectItem, error) {
	var out []CollectItem
	for v.Next() {
		out = append(out, v.Value())
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
