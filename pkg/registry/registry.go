// Package registry maps task names to typed task descriptors.
// It replaces dynamic task lookup: resolution failure is a typed
// error, not a runtime surprise at execution time.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

// Fn is the task body. Args and kwargs arrive JSON-decoded,
// so values are limited to JSON-representable types.
type Fn func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Descriptor describes one registered task.
type Descriptor struct {
	Name string `validate:"required"`
	Fn   Fn     `validate:"required"`
}

// UnknownTaskError is returned when a task name does not resolve.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf(`task "%s" is not registered`, e.Name)
}

type Registry struct {
	lock  *sync.RWMutex
	tasks map[string]Descriptor
}

// New creates a registry with the built-in batch control tasks registered.
func New() *Registry {
	r := &Registry{lock: &sync.RWMutex{}, tasks: make(map[string]Descriptor)}
	registerBatchTasks(r)
	return r
}

func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("task name cannot be empty")
	}
	if d.Fn == nil {
		return errors.Errorf(`task "%s" function cannot be nil`, d.Name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, found := r.tasks[d.Name]; found {
		return errors.Errorf(`task "%s" is already registered`, d.Name)
	}
	r.tasks[d.Name] = d
	return nil
}

func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// RegisterFn is a shortcut for registering a plain function under a name.
func (r *Registry) RegisterFn(name string, fn Fn) error {
	return r.Register(Descriptor{Name: name, Fn: fn})
}

// Resolve returns the descriptor of the task, or UnknownTaskError.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if d, found := r.tasks[name]; found {
		return d, nil
	}
	return Descriptor{}, &UnknownTaskError{Name: name}
}

// Registered returns true if the task name resolves.
func (r *Registry) Registered(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}
