package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cinderfn/cinder/internal/alloc"
	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/runner"
	"github.com/cinderfn/cinder/internal/statestore"
)

// ErrUnknownAllocation is returned for lookups of allocations this
// process has never accepted.
var ErrUnknownAllocation = errors.New("dispatch: unknown allocation")

// ErrNotTerminal is returned when deletion is attempted before the
// allocation reached a terminal result.
var ErrNotTerminal = errors.New("dispatch: allocation not terminal")

// Dispatcher runs allocations locally, one goroutine each, and keeps
// their live states queryable until the caller deletes them.
type Dispatcher struct {
	runner  *runner.Runner
	journal *statestore.Store
	ids     IDGenerator
	log     *slog.Logger

	mu     sync.Mutex
	states map[string]liveState
	wg     sync.WaitGroup
}

// liveState pairs an allocation's state with the request it belongs to,
// so request-scoped operations can fan out without a second index.
type liveState struct {
	requestID string
	st        *alloc.State
}

// NewDispatcher wires a dispatcher. journal may be nil; ids defaults to
// UUIDv7.
func NewDispatcher(r *runner.Runner, journal *statestore.Store, ids IDGenerator, log *slog.Logger) *Dispatcher {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		runner:  r,
		journal: journal,
		ids:     ids,
		log:     log,
		states:  make(map[string]liveState),
	}
}

// Submit accepts an allocation and starts its worker goroutine. Missing
// ids are filled in from the generator. A duplicate id is rejected:
// allocations are immutable once submitted.
func (d *Dispatcher) Submit(ctx context.Context, a alloc.Allocation) (alloc.Allocation, error) {
	if a.ID == "" {
		a.ID = d.ids.Generate()
	}
	if a.RequestID == "" {
		a.RequestID = d.ids.Generate()
	}
	if a.Function.Name == "" {
		return alloc.Allocation{}, fmt.Errorf("dispatch: allocation %s has no function", a.ID)
	}

	st := alloc.NewState(a.ID)

	d.mu.Lock()
	if _, exists := d.states[a.ID]; exists {
		d.mu.Unlock()
		return alloc.Allocation{}, fmt.Errorf("dispatch: allocation %s already submitted", a.ID)
	}
	d.states[a.ID] = liveState{requestID: a.RequestID, st: st}
	d.mu.Unlock()

	if d.journal != nil {
		if err := d.journal.RecordIntake(ctx, a); err != nil {
			d.log.Error("failed to journal intake", "allocation_id", a.ID, "error", err)
		}
	}

	d.log.Info("allocation accepted",
		"allocation_id", a.ID,
		"request_id", a.RequestID,
		"function", a.Function.Name)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// The worker outlives the submitting request; its lifetime is
		// bounded by process teardown, not the caller's context.
		d.runner.Run(context.WithoutCancel(ctx), a, st)
	}()

	return a, nil
}

// State returns the live state for an allocation.
func (d *Dispatcher) State(id string) (*alloc.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.states[id]
	if !ok {
		return nil, fmt.Errorf("allocation %s: %w", id, ErrUnknownAllocation)
	}
	return entry.st, nil
}

// statesForRequest snapshots the live states belonging to one request.
func (d *Dispatcher) statesForRequest(requestID string) []*alloc.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*alloc.State
	for _, entry := range d.states {
		if entry.requestID == requestID {
			out = append(out, entry.st)
		}
	}
	return out
}

// AnnounceOutputRequest records an outstanding keyed upload on every
// live, non-terminal allocation of a request, so their long-pollers
// observe the pending write. Terminal allocations are skipped; returns
// how many states were reached.
func (d *Dispatcher) AnnounceOutputRequest(requestID string, r alloc.OutputRequest) int {
	reached := 0
	for _, st := range d.statesForRequest(requestID) {
		if err := st.AddOutputRequest(r); err == nil {
			reached++
		}
	}
	return reached
}

// RegisterWatcher records a caller's interest in a request-state key on
// every live, non-terminal allocation of the request. Returns how many
// states were reached.
func (d *Dispatcher) RegisterWatcher(requestID string, w alloc.Watcher) int {
	reached := 0
	for _, st := range d.statesForRequest(requestID) {
		if err := st.AddWatcher(w); err == nil {
			reached++
		}
	}
	return reached
}

// ResolveOutputRequest clears an announced upload once its bytes are
// committed, along with any watcher registered under the same id, and
// returns the resolved entries with the landing blob filled in. States
// the announcement never reached are left alone.
func (d *Dispatcher) ResolveOutputRequest(requestID, id string, b blob.Blob) []alloc.OutputRequest {
	var resolved []alloc.OutputRequest
	for _, st := range d.statesForRequest(requestID) {
		removed, err := st.RemoveOutputRequest(id)
		if err == nil {
			removed.Blob = &b
			resolved = append(resolved, removed)
		}
		// A watcher under the same id means a reader was waiting on the
		// key; the commit satisfies it.
		_ = st.DeleteWatcher(id)
	}
	return resolved
}

// Delete removes a terminal allocation's state. Deleting a running
// allocation is an error; cancellation is not modeled here.
func (d *Dispatcher) Delete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.states[id]
	if !ok {
		return fmt.Errorf("allocation %s: %w", id, ErrUnknownAllocation)
	}
	if !entry.st.Snapshot().Terminal() {
		return fmt.Errorf("allocation %s: %w", id, ErrNotTerminal)
	}
	delete(d.states, id)
	d.log.Info("allocation deleted", "allocation_id", id)
	return nil
}

// Wait blocks until every accepted allocation has finished. Used on
// shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
