package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without colliding with existing
// identifiers.
const (
	DomainCall  = "cinder/call/v1"
	DomainValue = "cinder/value/v1"
)

// Node-kind tags mixed into structural hashes. A Collection carries a
// fixed list key instead of a function name.
const (
	tagFunctionCall = "call"
	tagReduceOp     = "reduce"
	tagCollection   = "list"
)

// ErrUnknownNode reports a Node implementation outside the sealed set.
// Unreachable for trees built through this package; kept as a defense
// against a future variant missing a dispatch arm.
type ErrUnknownNode struct {
	Node Node
}

func (e *ErrUnknownNode) Error() string {
	return fmt.Sprintf("unknown awaitable node kind %T", e.Node)
}

// MakeDurable walks the tree depth-first and returns a copy in which
// every non-leaf node carries a durable identifier. Value leaves pass
// through unchanged.
//
// Each non-leaf identifier hashes, in order: the parent call's
// identifier, a sequence number unique within that parent's call, a
// node-kind tag (plus function name for calls and reduces), and the
// already-computed durable identifiers of all immediate children in
// call order. Two executions of a deterministic parent call therefore
// derive identical identifiers for the entire subtree, while any change
// in branching structure, function name, or argument count changes the
// node's identifier and every ancestor's up to the root.
//
// nextSeq is the first unused sequence number for this parent call; the
// returned value is the counter after derivation. Threading the counter
// explicitly is what gives N structurally-identical siblings N distinct
// identifiers.
func MakeDurable(n Node, parentCallID string, nextSeq int64) (Node, int64, error) {
	switch node := n.(type) {
	case *Value:
		// Leaves are never durable-tree nodes.
		return node, nextSeq, nil

	case *FunctionCall:
		seq := nextSeq
		nextSeq++
		// Child count is hashed explicitly: value leaves contribute no
		// identifier of their own, but arity is still structure.
		parts := []string{
			parentCallID, strconv.FormatInt(seq, 10),
			tagFunctionCall, node.Function,
			strconv.Itoa(len(node.Args)), strconv.Itoa(len(node.Kwargs)),
		}

		args := make([]Node, len(node.Args))
		for i, child := range node.Args {
			durable, next, err := MakeDurable(child, parentCallID, nextSeq)
			if err != nil {
				return nil, 0, err
			}
			nextSeq = next
			args[i] = durable
			parts = appendChildID(parts, durable)
		}

		var kwargs map[string]Node
		if node.Kwargs != nil {
			kwargs = make(map[string]Node, len(node.Kwargs))
			for _, key := range sortedKwargKeys(node.Kwargs) {
				durable, next, err := MakeDurable(node.Kwargs[key], parentCallID, nextSeq)
				if err != nil {
					return nil, 0, err
				}
				nextSeq = next
				kwargs[key] = durable
				parts = append(parts, key)
				parts = appendChildID(parts, durable)
			}
		}

		return &FunctionCall{
			DurableID: hashParts(DomainCall, parts),
			Function:  node.Function,
			Args:      args,
			Kwargs:    kwargs,
		}, nextSeq, nil

	case *ReduceOp:
		seq := nextSeq
		nextSeq++
		parts := []string{
			parentCallID, strconv.FormatInt(seq, 10),
			tagReduceOp, node.Reducer,
			strconv.Itoa(len(node.Inputs)),
		}

		inputs := make([]Node, len(node.Inputs))
		for i, child := range node.Inputs {
			durable, next, err := MakeDurable(child, parentCallID, nextSeq)
			if err != nil {
				return nil, 0, err
			}
			nextSeq = next
			inputs[i] = durable
			parts = appendChildID(parts, durable)
		}

		return &ReduceOp{
			DurableID: hashParts(DomainCall, parts),
			Reducer:   node.Reducer,
			Inputs:    inputs,
		}, nextSeq, nil

	case *Collection:
		seq := nextSeq
		nextSeq++
		parts := []string{
			parentCallID, strconv.FormatInt(seq, 10),
			tagCollection,
			strconv.Itoa(len(node.Items)),
		}

		items := make([]Node, len(node.Items))
		for i, child := range node.Items {
			durable, next, err := MakeDurable(child, parentCallID, nextSeq)
			if err != nil {
				return nil, 0, err
			}
			nextSeq = next
			items[i] = durable
			parts = appendChildID(parts, durable)
		}

		return &Collection{
			DurableID: hashParts(DomainCall, parts),
			Items:     items,
		}, nextSeq, nil

	default:
		return nil, 0, &ErrUnknownNode{Node: n}
	}
}

// appendChildID appends a durable child's identifier to the hash input
// list. Value leaves contribute nothing: payloads are identified by
// content separately and must not perturb structural identity.
func appendChildID(parts []string, child Node) []string {
	switch c := child.(type) {
	case *Value:
		return parts
	case *FunctionCall:
		return append(parts, c.DurableID)
	case *ReduceOp:
		return append(parts, c.DurableID)
	case *Collection:
		return append(parts, c.DurableID)
	default:
		return parts
	}
}

// ValueID computes the content-addressed identifier of a serialized
// value payload. Value identifiers live in their own hash domain so a
// payload can never collide with a structural identifier.
func ValueID(serialized []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainValue))
	h.Write([]byte{0x00})
	h.Write(serialized)
	return hex.EncodeToString(h.Sum(nil))
}

// hashParts computes SHA-256 over the NFC-normalized UTF-8 bytes of
// each element, with a domain prefix and a null separator between
// elements. The separator prevents concatenation collisions ("ab","c"
// vs "a","bc"); normalization keeps identifiers stable across callers
// that spell the same function name with different Unicode forms.
func hashParts(domain string, parts []string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(norm.NFC.String(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
