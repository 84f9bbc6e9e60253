package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Handler executes one job type. Run returning nil without calling Succeed or
// Fail marks the job succeeded.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job_type to its handler. Workers look handlers up per claim, so
// a handler registered after the pool started is picked up by the next poll.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register fails when job_type already has a handler.
func (r *Registry) Register(h Handler) error {
	added, err := r.add(h)
	if err == nil && !added {
		err = fmt.Errorf("handler already registered for job_type=%s", h.Type())
	}
	return err
}

// RegisterOnce keeps an existing handler and reports whether h was added.
func (r *Registry) RegisterOnce(h Handler) (bool, error) {
	return r.add(h)
}

func (r *Registry) add(h Handler) (bool, error) {
	if h == nil {
		return false, fmt.Errorf("nil handler")
	}
	jobType := h.Type()
	if jobType == "" {
		return false, fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return false, nil
	}
	r.handlers[jobType] = h
	return true, nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
