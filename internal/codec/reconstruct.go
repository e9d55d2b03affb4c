package codec

import (
	"fmt"
	"sort"
)

// ReconstructArguments rebuilds the positional and keyword argument
// list for one call from its decoded wire metadata and a table of
// already-downloaded values. Nested collections are rebuilt
// recursively; references to other calls' outputs resolve through the
// table by durable id.
//
// Reduce-operation calls are special-cased: they always resolve to
// exactly two arguments (accumulator, next item), ordered by the
// explicit input index the caller recorded when it downloaded the
// values, never by table iteration order. Any other count is a
// ShapeError.
func ReconstructArguments(meta CallMetadata, table ValueTable, reg *Registry) ([]any, map[string]any, error) {
	if meta.Kind == UpdateReduceOp {
		args, err := reconstructReduceArguments(meta, table, reg)
		return args, nil, err
	}

	args := make([]any, len(meta.Positional))
	for i, ref := range meta.Positional {
		v, err := resolveRef(ref, meta, table, reg)
		if err != nil {
			return nil, nil, err
		}
		args[i] = v
	}

	var kwargs map[string]any
	if meta.Keyword != nil {
		kwargs = make(map[string]any, len(meta.Keyword))
		for key, ref := range meta.Keyword {
			v, err := resolveRef(ref, meta, table, reg)
			if err != nil {
				return nil, nil, err
			}
			kwargs[key] = v
		}
	}
	return args, kwargs, nil
}

// reconstructReduceArguments resolves the (accumulator, item) pair for
// one reduce step from the downloaded table.
func reconstructReduceArguments(meta CallMetadata, table ValueTable, reg *Registry) ([]any, error) {
	if len(table) != 2 {
		return nil, &ShapeError{Reason: fmt.Sprintf(
			"reduce call resolved %d downloaded values, need exactly 2", len(table))}
	}

	entries := make([]Downloaded, 0, 2)
	for _, entry := range table {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	args := make([]any, 2)
	for i, entry := range entries {
		v, err := deserializeValue(entry.Value, reg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// resolveRef materializes one argument reference.
func resolveRef(ref ArgRef, meta CallMetadata, table ValueTable, reg *Registry) (any, error) {
	switch ref.Kind {
	case RefValue:
		entry, ok := table[ref.ValueID]
		if !ok {
			return nil, &ShapeError{Reason: fmt.Sprintf("value %s not in downloaded table", ref.ValueID)}
		}
		return deserializeValue(entry.Value, reg)

	case RefUpdate:
		entry, ok := table[ref.UpdateID]
		if !ok {
			return nil, &ShapeError{Reason: fmt.Sprintf("call output %s not in downloaded table", ref.UpdateID)}
		}
		return deserializeValue(entry.Value, reg)

	case RefCollection:
		items := make([]any, len(ref.Items))
		for i, item := range ref.Items {
			v, err := resolveRef(item, meta, table, reg)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	default:
		return nil, &ShapeError{Reason: fmt.Sprintf("unknown argument reference kind %q", ref.Kind)}
	}
}

// deserializeValue runs a downloaded value back through the serializer
// named in its metadata.
func deserializeValue(sv SerializedValue, reg *Registry) (any, error) {
	ser, err := reg.Get(sv.Meta.Serializer)
	if err != nil {
		return nil, err
	}
	v, err := ser.Deserialize(sv.Data, sv.Meta.TypeTag)
	if err != nil {
		return nil, &FormatError{Serializer: sv.Meta.Serializer, Type: sv.Meta.TypeTag, Err: err}
	}
	return v, nil
}
