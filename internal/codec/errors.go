package codec

import "fmt"

// FormatError reports a value the declared argument serializer refused
// to handle. Data is never silently dropped; the caller sees exactly
// which serializer rejected what type.
type FormatError struct {
	Serializer string
	Type       string
	Err        error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("serializer %q rejected value of type %s: %v", e.Serializer, e.Type, e.Err)
	}
	return fmt.Sprintf("serializer %q rejected value of type %s", e.Serializer, e.Type)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ShapeError reports wire metadata inconsistent with the declared call
// shape: a referenced value missing from the table, or a reduce call
// without exactly two downloaded values. These indicate a defect in the
// producer, not bad user input.
type ShapeError struct {
	CallID string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.CallID != "" {
		return fmt.Sprintf("malformed call shape for %s: %s", e.CallID, e.Reason)
	}
	return fmt.Sprintf("malformed call shape: %s", e.Reason)
}
