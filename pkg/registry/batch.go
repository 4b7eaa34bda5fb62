package registry

import (
	"context"

	"github.com/spf13/cast"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/canvas"
)

// registerBatchTasks registers the control tasks backing canvas.Map,
// canvas.Starmap and canvas.NewChunks. Each invokes the target task
// once per item, sequentially, inside a single message.
func registerBatchTasks(r *Registry) {
	r.MustRegister(Descriptor{Name: canvas.BuiltinMap, Fn: r.mapTask(false)})
	r.MustRegister(Descriptor{Name: canvas.BuiltinStarmap, Fn: r.mapTask(true)})
	r.MustRegister(Descriptor{Name: canvas.BuiltinChunk, Fn: r.mapTask(true)})
}

func (r *Registry) mapTask(star bool) Fn {
	return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		name, err := cast.ToStringE(kwargs["task"])
		if err != nil || name == "" {
			return nil, errors.New(`batch task requires the "task" kwarg`)
		}
		items, ok := kwargs["items"].([]any)
		if !ok {
			return nil, errors.New(`batch task requires the "items" kwarg`)
		}

		target, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}

		out := make([]any, 0, len(items))
		for i, item := range items {
			var itemArgs []any
			if star {
				itemArgs, ok = item.([]any)
				if !ok {
					return nil, errors.Errorf(`batch item %d: expected a list of arguments, got %T`, i, item)
				}
			} else {
				itemArgs = []any{item}
			}
			value, err := target.Fn(ctx, itemArgs, nil)
			if err != nil {
				return nil, errors.PrefixErrorf(err, `batch item %d failed`, i)
			}
			out = append(out, value)
		}
		return out, nil
	}
}
