package codec

import (
	"github.com/cinderfn/cinder/internal/plan"
)

// SerializeTree walks an awaitable tree and replaces every concrete
// value leaf with its SerializedValue, recording each in the returned
// table keyed by content-addressed value id. Non-leaf structure is
// copied; durable identifiers, if already assigned, are preserved.
//
// The serializer is the one the target function declared for its
// arguments. A value the serializer rejects surfaces as a FormatError;
// nothing is ever dropped.
func SerializeTree(n plan.Node, ser Serializer) (plan.Node, map[string]SerializedValue, error) {
	table := make(map[string]SerializedValue)
	wire, err := serializeNode(n, ser, table)
	if err != nil {
		return nil, nil, err
	}
	return wire, table, nil
}

func serializeNode(n plan.Node, ser Serializer, table map[string]SerializedValue) (plan.Node, error) {
	switch node := n.(type) {
	case *plan.Value:
		sv, err := serializeValue(node.Data, ser)
		if err != nil {
			return nil, err
		}
		table[sv.Meta.ID] = sv
		return &plan.Value{Data: sv, Index: node.Index}, nil

	case *plan.FunctionCall:
		out := &plan.FunctionCall{
			DurableID: node.DurableID,
			Function:  node.Function,
			Args:      make([]plan.Node, len(node.Args)),
		}
		for i, child := range node.Args {
			wire, err := serializeNode(child, ser, table)
			if err != nil {
				return nil, err
			}
			out.Args[i] = wire
		}
		if node.Kwargs != nil {
			out.Kwargs = make(map[string]plan.Node, len(node.Kwargs))
			for key, child := range node.Kwargs {
				wire, err := serializeNode(child, ser, table)
				if err != nil {
					return nil, err
				}
				out.Kwargs[key] = wire
			}
		}
		return out, nil

	case *plan.ReduceOp:
		out := &plan.ReduceOp{
			DurableID: node.DurableID,
			Reducer:   node.Reducer,
			Inputs:    make([]plan.Node, len(node.Inputs)),
		}
		for i, child := range node.Inputs {
			wire, err := serializeNode(child, ser, table)
			if err != nil {
				return nil, err
			}
			out.Inputs[i] = wire
		}
		return out, nil

	case *plan.Collection:
		out := &plan.Collection{
			DurableID: node.DurableID,
			Items:     make([]plan.Node, len(node.Items)),
		}
		for i, child := range node.Items {
			wire, err := serializeNode(child, ser, table)
			if err != nil {
				return nil, err
			}
			out.Items[i] = wire
		}
		return out, nil

	default:
		return nil, &plan.ErrUnknownNode{Node: n}
	}
}

// serializeValue runs one value through the serializer and assembles
// its wire pair. The value id is derived from serialized content, so
// identical payloads share one table entry.
func serializeValue(v any, ser Serializer) (SerializedValue, error) {
	data, tag, err := ser.Serialize(v)
	if err != nil {
		return SerializedValue{}, err
	}
	meta := ValueMetadata{
		ID:         plan.ValueID(data),
		TypeTag:    tag,
		Serializer: ser.Name(),
	}
	if ser.Name() == SerializerRaw {
		meta.ContentType = "application/octet-stream"
	}
	return SerializedValue{Meta: meta, Data: data}, nil
}
