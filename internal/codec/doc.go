// Package codec converts between in-process awaitable trees and their
// wire representation.
//
// Three conversions live here:
//
//   - SerializeTree replaces every concrete value leaf with a
//     SerializedValue (metadata + raw bytes) produced by the function's
//     declared argument serializer, and records each in a value table
//     keyed by content-addressed value id.
//   - ExecutionPlanUpdates flattens a durable tree into the ordered list
//     of wire update records the scheduler consumes, one FunctionCall or
//     ReduceOp record per non-leaf node. Collections are always inlined
//     into the argument that references them.
//   - ReconstructArguments is the inverse: given one call's wire
//     metadata and a table of already-downloaded values, it rebuilds the
//     exact positional and keyword argument list user code originally
//     produced, nested collections included.
//
// Call metadata travels as an opaque versioned binary envelope; only
// this package understands its layout.
package codec
