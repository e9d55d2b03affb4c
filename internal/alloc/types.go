package alloc

import (
	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/codec"
)

// FunctionRef names a target function and the serializer its arguments
// were declared with.
type FunctionRef struct {
	Name       string `json:"name"`
	Serializer string `json:"serializer,omitempty"`
}

// Allocation is one durable unit of work: a single invocation of one
// function together with the serialized inputs that feed it. Immutable
// once submitted; deleted by the caller after it has observed a
// terminal result.
type Allocation struct {
	// ID is the opaque allocation identifier.
	ID string `json:"id"`

	// RequestID groups allocations belonging to one end-user
	// invocation.
	RequestID string `json:"request_id"`

	Function FunctionRef `json:"function"`
	Inputs   InputBundle `json:"inputs"`
}

// InputBundle carries the ordered serialized arguments and the blobs
// backing their payloads.
type InputBundle struct {
	// CallMetadata is the opaque codec envelope describing the call
	// shape.
	CallMetadata []byte `json:"call_metadata"`

	// Values locate each serialized argument within Blobs.
	Values []InputValue `json:"values"`

	Blobs []blob.Blob `json:"blobs"`
}

// InputValue is one serialized argument: its metadata plus the byte
// range of the backing blob holding its payload.
type InputValue struct {
	Meta  codec.ValueMetadata `json:"meta"`
	Index int                 `json:"index"`

	// Blob indexes into InputBundle.Blobs; Offset and Size select the
	// payload range within it.
	Blob   int   `json:"blob"`
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// Progress is an optional {current, total} pair user code may publish
// mid-execution.
type Progress struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

// Watcher registers a caller's interest in state produced under a key,
// used by the request-state side channel when the runner and its caller
// are separate processes.
type Watcher struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// OutputRequest is an outstanding upload the allocation asked its
// caller to provision: a keyed write of Size bytes, resolved with the
// blob the bytes landed in.
type OutputRequest struct {
	ID   string     `json:"id"`
	Key  string     `json:"key"`
	Size int64      `json:"size"`
	Blob *blob.Blob `json:"blob,omitempty"`
}

// ResultKind is the closed outcome taxonomy.
type ResultKind string

const (
	// ResultValue: the function returned a concrete value.
	ResultValue ResultKind = "value"
	// ResultPlan: the function produced new deferred work to schedule.
	ResultPlan ResultKind = "plan"
	// ResultUserException: user code raised; detail goes only to the
	// user-visible channel.
	ResultUserException ResultKind = "user_exception"
	// ResultRequestError: a declared business error with a durably
	// uploaded payload.
	ResultRequestError ResultKind = "request_error"
	// ResultInternalError: a defect in the runner itself; surfaced as
	// a generic code with no detail.
	ResultInternalError ResultKind = "internal_error"
)

// Metrics are attached to every terminal result.
type Metrics struct {
	DownloadMillis int64 `json:"download_ms"`
	ExecuteMillis  int64 `json:"execute_ms"`
	PublishMillis  int64 `json:"publish_ms"`
	InputBytes     int64 `json:"input_bytes"`
	OutputBytes    int64 `json:"output_bytes"`
	UpdateCount    int   `json:"update_count"`
}

// Result is the terminal outcome of one allocation.
type Result struct {
	Kind ResultKind `json:"kind"`

	// ValueID identifies the output payload for value results.
	ValueID string `json:"value_id,omitempty"`

	// ValueMeta describes the serialized output payload for value
	// results so the caller can deserialize it.
	ValueMeta *codec.ValueMetadata `json:"value_meta,omitempty"`

	// Output is the uploaded payload blob for value and request-error
	// results.
	Output *blob.Blob `json:"output,omitempty"`

	// ErrorCode and Message are sanitized; user exception detail never
	// travels here.
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`

	Metrics Metrics `json:"metrics"`
}
