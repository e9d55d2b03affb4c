package codec

import (
	"github.com/cinderfn/cinder/internal/plan"
)

// UpdateKind distinguishes the two wire update record shapes.
type UpdateKind string

const (
	UpdateFunctionCall UpdateKind = "function_call"
	UpdateReduceOp     UpdateKind = "reduce_op"
)

// ArgRefKind classifies how a child reference in a wire record
// resolves.
type ArgRefKind string

const (
	// RefValue points at an inline serialized value by value id.
	RefValue ArgRefKind = "value"
	// RefUpdate points at another update record by durable id.
	RefUpdate ArgRefKind = "update"
	// RefCollection is a fully inlined ordered list of references.
	RefCollection ArgRefKind = "collection"
)

// ArgRef is one child reference inside a wire update: a serialized
// value, a reference to another update's id, or an inlined collection.
type ArgRef struct {
	Kind     ArgRefKind `json:"kind"`
	ValueID  string     `json:"value_id,omitempty"`
	UpdateID string     `json:"update_id,omitempty"`
	Items    []ArgRef   `json:"items,omitempty"`
	Index    int        `json:"index"`
}

// Update is one wire execution-plan record: a FunctionCall or ReduceOp
// for the scheduler to materialize. CallMetadata is the opaque
// versioned envelope only this package decodes.
type Update struct {
	Kind         UpdateKind        `json:"kind"`
	ID           string            `json:"id"`
	Function     string            `json:"function"`
	Args         []ArgRef          `json:"args,omitempty"`
	Kwargs       map[string]ArgRef `json:"kwargs,omitempty"`
	Collection   []ArgRef          `json:"collection,omitempty"`
	CallMetadata []byte            `json:"call_metadata"`
}

// ExecutionPlanUpdates flattens a durable, serialized tree into the
// ordered list of wire updates. Children precede the records that
// reference them, so a consumer reading the list front to back never
// sees a dangling update reference. Collections never become records of
// their own; they are inlined into the referencing argument, with any
// function calls they contain flattened recursively.
//
// The tree must have passed through both plan.MakeDurable and
// SerializeTree; a bare value leaf or an empty durable id is a
// ShapeError.
func ExecutionPlanUpdates(n plan.Node) ([]Update, error) {
	var updates []Update
	switch node := n.(type) {
	case *plan.Value:
		// A concrete value is a result, not a plan.
		return nil, nil
	case *plan.Collection:
		// Top-level collection: flatten the calls it contains.
		for _, item := range node.Items {
			nested, err := ExecutionPlanUpdates(item)
			if err != nil {
				return nil, err
			}
			updates = append(updates, nested...)
		}
		return updates, nil
	default:
		_, err := flattenNode(n, &updates)
		if err != nil {
			return nil, err
		}
		return updates, nil
	}
}

// flattenNode converts one non-leaf node to an ArgRef, appending the
// update records for it and its descendants to out.
func flattenNode(n plan.Node, out *[]Update) (ArgRef, error) {
	switch node := n.(type) {
	case *plan.Value:
		sv, ok := node.Data.(SerializedValue)
		if !ok {
			return ArgRef{}, &ShapeError{Reason: "value leaf was not serialized before flattening"}
		}
		return ArgRef{Kind: RefValue, ValueID: sv.Meta.ID, Index: node.Index}, nil

	case *plan.FunctionCall:
		if node.DurableID == "" {
			return ArgRef{}, &ShapeError{Reason: "function call has no durable id"}
		}
		meta := CallMetadata{
			Kind:      UpdateFunctionCall,
			Function:  node.Function,
			ValueMeta: make(map[string]ValueMetadata),
		}
		args := make([]ArgRef, len(node.Args))
		for i, child := range node.Args {
			ref, err := flattenNode(child, out)
			if err != nil {
				return ArgRef{}, err
			}
			args[i] = ref
			collectValueMeta(child, meta.ValueMeta)
		}
		var kwargs map[string]ArgRef
		if node.Kwargs != nil {
			kwargs = make(map[string]ArgRef, len(node.Kwargs))
			for key, child := range node.Kwargs {
				ref, err := flattenNode(child, out)
				if err != nil {
					return ArgRef{}, err
				}
				kwargs[key] = ref
				collectValueMeta(child, meta.ValueMeta)
			}
		}
		meta.Positional = args
		meta.Keyword = kwargs
		blob, err := EncodeCallMetadata(meta)
		if err != nil {
			return ArgRef{}, err
		}
		*out = append(*out, Update{
			Kind:         UpdateFunctionCall,
			ID:           node.DurableID,
			Function:     node.Function,
			Args:         args,
			Kwargs:       kwargs,
			CallMetadata: blob,
		})
		return ArgRef{Kind: RefUpdate, UpdateID: node.DurableID}, nil

	case *plan.ReduceOp:
		if node.DurableID == "" {
			return ArgRef{}, &ShapeError{Reason: "reduce operation has no durable id"}
		}
		meta := CallMetadata{
			Kind:      UpdateReduceOp,
			Function:  node.Reducer,
			ValueMeta: make(map[string]ValueMetadata),
		}
		inputs := make([]ArgRef, len(node.Inputs))
		for i, child := range node.Inputs {
			ref, err := flattenNode(child, out)
			if err != nil {
				return ArgRef{}, err
			}
			ref.Index = i
			inputs[i] = ref
			collectValueMeta(child, meta.ValueMeta)
		}
		meta.Positional = inputs
		blob, err := EncodeCallMetadata(meta)
		if err != nil {
			return ArgRef{}, err
		}
		*out = append(*out, Update{
			Kind:         UpdateReduceOp,
			ID:           node.DurableID,
			Function:     node.Reducer,
			Collection:   inputs,
			CallMetadata: blob,
		})
		return ArgRef{Kind: RefUpdate, UpdateID: node.DurableID}, nil

	case *plan.Collection:
		items := make([]ArgRef, len(node.Items))
		for i, child := range node.Items {
			ref, err := flattenNode(child, out)
			if err != nil {
				return ArgRef{}, err
			}
			ref.Index = i
			items[i] = ref
		}
		return ArgRef{Kind: RefCollection, Items: items}, nil

	default:
		return ArgRef{}, &plan.ErrUnknownNode{Node: n}
	}
}

// collectValueMeta records the metadata of every inline value reachable
// from child without crossing into another call's record. Calls and
// reduces own their arguments' metadata; collections are inlined, so
// their values belong to the referencing call.
func collectValueMeta(child plan.Node, into map[string]ValueMetadata) {
	switch node := child.(type) {
	case *plan.Value:
		if sv, ok := node.Data.(SerializedValue); ok {
			into[sv.Meta.ID] = sv.Meta
		}
	case *plan.Collection:
		for _, item := range node.Items {
			collectValueMeta(item, into)
		}
	}
}
