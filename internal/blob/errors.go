package blob

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an absent key: a missing local file or a remote
// 404. Never retried.
var ErrNotFound = errors.New("blob not found")

// IntegrityError reports bytes that failed verification: a truncated
// local file, a range response shorter than requested, or a digest
// mismatch. Always fatal to the current operation; short data is never
// returned silently.
type IntegrityError struct {
	Name   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("blob %s failed integrity check: %s", e.Name, e.Reason)
}

// TransferError reports a failed remote operation. It deliberately
// carries no URI: chunk URLs may be pre-signed. Status and a bounded
// body excerpt are all that is safe to surface.
type TransferError struct {
	Op     string
	Status int
	Body   string
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("blob %s failed: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("blob %s failed: %s", e.Op, e.Body)
}
