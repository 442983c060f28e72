package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Registry holds the cancel functions of running tasks, keyed by task id.
// It is created once per process and torn down with Shutdown.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register binds cancel to id. A task id can only be registered once at a time.
func (r *Registry) Register(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancels[id]; ok {
		return fmt.Errorf("task %s is already running", id)
	}
	r.cancels[id] = cancel
	return nil
}

// Unregister forgets id without cancelling it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

// Cancel signals the task bound to id and forgets it.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	cancel()
	return nil
}

// Running returns the ids of registered tasks, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.cancels))
	for id := range r.cancels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every registered task.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
