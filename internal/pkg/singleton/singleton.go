// Package singleton holds process-wide, lazily built values keyed by name.
//
// The first caller for a name runs the factory; concurrent callers for the same
// name wait on that call and share its result. Failed factories are not cached.
package singleton

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type Registry struct {
	mu     sync.RWMutex
	values map[string]any
	group  singleflight.Group
}

func New() *Registry {
	return &Registry{values: map[string]any{}}
}

func (r *Registry) lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether name was already built.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

func Get[T any](r *Registry, name string, factory func() (T, error)) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("singleton registry is nil")
	}
	if v, ok := r.lookup(name); ok {
		return cast[T](name, v)
	}
	v, err, _ := r.group.Do(name, func() (any, error) {
		if existing, ok := r.lookup(name); ok {
			return existing, nil
		}
		built, err := factory()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.values[name] = built
		r.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return zero, fmt.Errorf("singleton %q: %w", name, err)
	}
	return cast[T](name, v)
}

func cast[T any](name string, v any) (T, error) {
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("singleton %q holds %T, not %T", name, v, zero)
	}
	return typed, nil
}
