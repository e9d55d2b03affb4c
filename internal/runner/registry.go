package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cinderfn/cinder/internal/alloc"
)

// Invocation is what a handler sees of its allocation: the
// reconstructed arguments plus the narrow surface user code may touch
// mid-run.
type Invocation struct {
	AllocationID string
	RequestID    string
	Function     string

	Args   []any
	Kwargs map[string]any

	state *alloc.State
	log   *slog.Logger
}

// Progress publishes a {current, total} pair to long-pollers. Returns
// an error once the allocation is terminal.
func (inv *Invocation) Progress(current, total int64) error {
	return inv.state.UpdateProgress(current, total)
}

// Log is the user-visible log channel. Anything written here may carry
// argument data and never reaches the process's internal logs.
func (inv *Invocation) Log() *slog.Logger {
	return inv.log
}

// Handler is the body of one registered function.
type Handler func(ctx context.Context, inv *Invocation) (any, error)

// Registry maps function names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a function name, replacing any previous
// binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for a function name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for function %q", name)
	}
	return h, nil
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
