package alloc

import "fmt"

// MissingEntryError reports removal of a list entry that does not
// exist. Callers track watchers, queued calls, and output requests by
// identifier; asking to remove an absent one means the two sides have
// desynchronized, which must surface loudly rather than be absorbed as
// a no-op.
type MissingEntryError struct {
	AllocationID string
	Kind         string
	ID           string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("allocation %s has no %s %q to remove", e.AllocationID, e.Kind, e.ID)
}

// FrozenError reports a mutation attempted after the terminal result
// was set.
type FrozenError struct {
	AllocationID string
	Op           string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("allocation %s is terminal; %s rejected", e.AllocationID, e.Op)
}
