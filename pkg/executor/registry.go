// Package executor maps task capabilities to handler functions.
//
// A Registry is an api.TaskExecutor: the engine hands it every attempt and
// it dispatches on TaskRequest.Capability. Requests for a capability that
// was never registered fail permanently, so they are not retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/petrijr/taskgraph/pkg/api"
)

// ErrUnknownCapability is wrapped by the error returned for an unregistered
// capability.
var ErrUnknownCapability = errors.New("unknown capability")

// HandlerFunc runs one attempt of a task.
type HandlerFunc func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error)

// Registry dispatches task attempts by capability name.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

var _ api.TaskExecutor = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler. Registering a capability twice is an error.
func (r *Registry) Register(capability string, h HandlerFunc) error {
	if capability == "" {
		return errors.New("executor: capability name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("executor: capability %q has nil handler", capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[capability]; dup {
		return fmt.Errorf("executor: capability %q already registered", capability)
	}
	r.handlers[capability] = h
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(capability string, h HandlerFunc) *Registry {
	if err := r.Register(capability, h); err != nil {
		panic(err)
	}
	return r
}

// Capabilities lists the registered names in sorted order.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execute implements api.TaskExecutor.
func (r *Registry) Execute(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
	r.mu.RLock()
	h, ok := r.handlers[req.Capability]
	r.mu.RUnlock()
	if !ok {
		return api.TaskResult{}, api.Permanent(fmt.Errorf("%w %q", ErrUnknownCapability, req.Capability))
	}
	return h(ctx, req)
}
