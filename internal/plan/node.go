package plan

import "slices"

// Node is a sealed interface over the closed set of awaitable tree
// kinds. Only Value, FunctionCall, ReduceOp, and Collection implement
// it. Each operation over trees (durable-id derivation, serialization,
// flattening, reconstruction) dispatches on this set exactly once.
type Node interface {
	planNode() // sealed
}

// Value is a concrete leaf: an in-process value plus its positional
// index within the call that produced it. Values are never durable-tree
// nodes; their identity comes from serialized content, not structure.
type Value struct {
	// Data is the in-process value. It may be any serializable Go
	// value; the codec's serializer decides what is acceptable.
	Data any

	// Index is the positional index of this value among its call's
	// inputs. Reduce operations rely on it to order (accumulator, item).
	Index int
}

func (*Value) planNode() {}

// FunctionCall is a deferred invocation of a named function with
// positional and keyword arguments, each itself a Node.
type FunctionCall struct {
	// DurableID is empty until MakeDurable assigns it.
	DurableID string

	// Function is the target function reference (fully qualified name).
	Function string

	Args   []Node
	Kwargs map[string]Node
}

func (*FunctionCall) planNode() {}

// ReduceOp folds an ordered collection of inputs into one value with a
// two-argument (accumulator, item) reducer function.
type ReduceOp struct {
	// DurableID is empty until MakeDurable assigns it.
	DurableID string

	// Reducer is the reducer function reference.
	Reducer string

	// Inputs are folded in order. Each input is a Node.
	Inputs []Node
}

func (*ReduceOp) planNode() {}

// Collection is an ordered list of items with no identity of its own.
// Collections never appear as standalone execution-plan records; they
// are always inlined into the argument that references them. They still
// participate in durable hashing so that reordering or resizing a
// collection changes every ancestor's identifier.
type Collection struct {
	// DurableID is empty until MakeDurable assigns it. Used only while
	// hashing ancestors; collections are never published by id.
	DurableID string

	Items []Node
}

func (*Collection) planNode() {}

// NewValue creates a Value leaf at the given positional index.
func NewValue(data any, index int) *Value {
	return &Value{Data: data, Index: index}
}

// Call creates a FunctionCall with positional arguments only.
func Call(function string, args ...Node) *FunctionCall {
	return &FunctionCall{Function: function, Args: args}
}

// Reduce creates a ReduceOp over the given inputs.
func Reduce(reducer string, inputs ...Node) *ReduceOp {
	return &ReduceOp{Reducer: reducer, Inputs: inputs}
}

// List creates a Collection of the given items.
func List(items ...Node) *Collection {
	return &Collection{Items: items}
}

// sortedKwargKeys returns keyword-argument names in lexicographic
// order. Keyword arguments have no inherent call order, so a stable
// sort is what makes their contribution to hashing deterministic.
func sortedKwargKeys(kwargs map[string]Node) []string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
