package alloc

import (
	"context"
	"slices"
	"sync"

	"github.com/cinderfn/cinder/internal/codec"
)

// State is the mutable, versioned snapshot of one allocation. The
// allocation's runner owns it exclusively for writes; request handlers
// observe it through WaitForUpdate and Snapshot.
//
// All mutations are serialized under one mutex, so two observers always
// agree on the relative order of the hashes they saw. Waiters are woken
// through a broadcast channel replaced on every mutation; that is what
// keeps WaitForUpdate cancelable by context, which a bare condition
// variable would not be.
type State struct {
	mu     sync.Mutex
	notify chan struct{}

	allocationID string
	updates      []codec.Update
	watchers     []Watcher
	outputs      []OutputRequest
	progress     *Progress
	result       *Result
	hash         string
}

// NewState creates the state object for one allocation.
func NewState(allocationID string) *State {
	s := &State{
		allocationID: allocationID,
		notify:       make(chan struct{}),
	}
	s.hash = s.computeHashLocked()
	return s
}

// Snapshot is an immutable copy of the state at one hash version.
type Snapshot struct {
	AllocationID   string          `json:"allocation_id"`
	Hash           string          `json:"hash"`
	Updates        []codec.Update  `json:"updates,omitempty"`
	Watchers       []Watcher       `json:"watchers,omitempty"`
	OutputRequests []OutputRequest `json:"output_requests,omitempty"`
	Progress       *Progress       `json:"progress,omitempty"`
	Result         *Result         `json:"result,omitempty"`
}

// Terminal reports whether the snapshot carries a result.
func (s Snapshot) Terminal() bool { return s.Result != nil }

// Snapshot returns the current state copy without waiting.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Hash returns the current content hash.
func (s *State) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

// WaitForUpdate blocks until the state's hash differs from
// lastSeenHash, then returns a snapshot. A terminal state returns
// immediately even when the hash matches, so a long-poll that has seen
// the final hash still terminates instead of blocking forever. The
// context bounds the wait; this layer imposes no timeout of its own.
func (s *State) WaitForUpdate(ctx context.Context, lastSeenHash string) (Snapshot, error) {
	s.mu.Lock()
	for {
		if s.result != nil || s.hash != lastSeenHash {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-ch:
		}
		s.mu.Lock()
	}
}

// AddFunctionCall appends one execution-plan update.
func (s *State) AddFunctionCall(u codec.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return &FrozenError{AllocationID: s.allocationID, Op: "add function call"}
	}
	s.updates = append(s.updates, u)
	s.mutatedLocked()
	return nil
}

// DeleteFunctionCall removes a queued update by durable id.
func (s *State) DeleteFunctionCall(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return &FrozenError{AllocationID: s.allocationID, Op: "delete function call"}
	}
	idx := slices.IndexFunc(s.updates, func(u codec.Update) bool { return u.ID == id })
	if idx < 0 {
		return &MissingEntryError{AllocationID: s.allocationID, Kind: "function call", ID: id}
	}
	s.updates = slices.Delete(s.updates, idx, idx+1)
	s.mutatedLocked()
	return nil
}

// AddWatcher registers a watcher.
func (s *State) AddWatcher(w Watcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return &FrozenError{AllocationID: s.allocationID, Op: "add watcher"}
	}
	s.watchers = append(s.watchers, w)
	s.mutatedLocked()
	return nil
}

// DeleteWatcher removes a watcher by id.
func (s *State) DeleteWatcher(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return &FrozenError{AllocationID: s.allocationID, Op: "delete watcher"}
	}
	idx := slices.IndexFunc(s.watchers, func(w Watcher) bool { return w.ID == id })
	if idx < 0 {
		return &MissingEntryError{AllocationID: s.allocationID, Kind: "watcher", ID: id}
	}
	s.watchers = slices.Delete(s.watchers, idx, idx+1)
	s.mutatedLocked()
	return nil
}

// AddOutputRequest records an outstanding keyed upload.
func (s *State) AddOutputRequest(r OutputRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return &FrozenError{AllocationID: s.allocationID, Op: "add output request"}
	}
	s.outputs = append(s.outputs, r)
	s.mutatedLocked()
	return nil
}

// RemoveOutputRequest removes an outstanding upload by id and returns
// the removed entry.
func (s *State) RemoveOutputRequest(id string) (OutputRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return OutputRequest{}, &FrozenError{AllocationID: s.allocationID, Op: "remove output request"}
	}
	idx := slices.IndexFunc(s.outputs, func(r OutputRequest) bool { return r.ID == id })
	if idx < 0 {
		return OutputRequest{}, &MissingEntryError{AllocationID: s.allocationID, Kind: "output request", ID: id}
	}
	removed := s.outputs[idx]
	s.outputs = slices.Delete(s.outputs, idx, idx+1)
	s.mutatedLocked()
	return removed, nil
}

// UpdateProgress publishes a {current, total} pair.
func (s *State) UpdateProgress(current, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return &FrozenError{AllocationID: s.allocationID, Op: "update progress"}
	}
	s.progress = &Progress{Current: current, Total: total}
	s.mutatedLocked()
	return nil
}

// SetResult publishes the terminal result and freezes the state. The
// caller contract permits exactly one SetResult per allocation; the
// contract is not runtime-enforced.
func (s *State) SetResult(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &r
	s.mutatedLocked()
}

// mutatedLocked recomputes the hash and wakes every waiter. Must be
// called with the mutex held, after every mutation.
func (s *State) mutatedLocked() {
	s.hash = s.computeHashLocked()
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		AllocationID:   s.allocationID,
		Hash:           s.hash,
		Updates:        slices.Clone(s.updates),
		Watchers:       slices.Clone(s.watchers),
		OutputRequests: slices.Clone(s.outputs),
	}
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}
