package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Serializer converts one argument value to and from raw bytes. The
// type tag recorded at serialization time is what Deserialize needs to
// rebuild the exact in-process type.
type Serializer interface {
	Name() string
	Serialize(v any) (data []byte, typeTag string, err error)
	Deserialize(data []byte, typeTag string) (any, error)
}

// Serializer names understood by the default registry. An empty
// serializer name in value metadata means SerializerJSON.
const (
	SerializerJSON = "json"
	SerializerRaw  = "raw"
)

// Registry resolves declared serializer names to implementations.
type Registry struct {
	byName map[string]Serializer
}

// NewRegistry returns a registry with the built-in JSON and raw
// serializers registered.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Serializer)}
	r.Register(JSONSerializer{})
	r.Register(RawSerializer{})
	return r
}

// Register adds or replaces a serializer under its own name.
func (r *Registry) Register(s Serializer) {
	r.byName[s.Name()] = s
}

// Get resolves a serializer name. The empty name resolves to JSON.
func (r *Registry) Get(name string) (Serializer, error) {
	if name == "" {
		name = SerializerJSON
	}
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("no serializer registered under %q", name)
	}
	return s, nil
}

// JSONSerializer handles structured values. Integers are tagged and
// round-tripped as int64 rather than collapsing to float64.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return SerializerJSON }

func (JSONSerializer) Serialize(v any) ([]byte, string, error) {
	tag := typeTagOf(v)
	if tag == "" {
		return nil, "", &FormatError{Serializer: SerializerJSON, Type: fmt.Sprintf("%T", v)}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", &FormatError{Serializer: SerializerJSON, Type: fmt.Sprintf("%T", v), Err: err}
	}
	return data, tag, nil
}

func (JSONSerializer) Deserialize(data []byte, typeTag string) (any, error) {
	switch typeTag {
	case "null":
		return nil, nil
	case "string":
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	case "bool":
		var b bool
		err := json.Unmarshal(data, &b)
		return b, err
	case "int64":
		n, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
		return n, err
	case "float64":
		var f float64
		err := json.Unmarshal(data, &f)
		return f, err
	case "object":
		var m map[string]any
		if err := decodeNumberAware(data, &m); err != nil {
			return nil, err
		}
		return normalizeNumbers(m), nil
	case "array":
		var a []any
		if err := decodeNumberAware(data, &a); err != nil {
			return nil, err
		}
		return normalizeNumbers(a), nil
	default:
		return nil, fmt.Errorf("json serializer: unknown type tag %q", typeTag)
	}
}

// decodeNumberAware unmarshals with json.Number so integers nested in
// composites are not collapsed to float64 before we can look at them.
func decodeNumberAware(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeNumbers rewrites json.Number leaves in place: integral
// numbers become int64, everything else float64. Composites keep the
// same value-for-value shape they were serialized with.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, elem := range val {
			val[k] = normalizeNumbers(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = normalizeNumbers(elem)
		}
		return val
	default:
		return v
	}
}

// typeTagOf maps a Go value onto the closed set of JSON type tags.
// Returns "" for types the JSON serializer does not accept.
func typeTagOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64:
		return "int64"
	case float32, float64:
		return "float64"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return ""
	}
}

// RawSerializer passes byte payloads through untouched, for arguments
// whose declared content type is not structured data.
type RawSerializer struct{}

func (RawSerializer) Name() string { return SerializerRaw }

func (RawSerializer) Serialize(v any) ([]byte, string, error) {
	switch val := v.(type) {
	case []byte:
		return val, "bytes", nil
	case string:
		return []byte(val), "bytes", nil
	default:
		return nil, "", &FormatError{Serializer: SerializerRaw, Type: fmt.Sprintf("%T", v)}
	}
}

func (RawSerializer) Deserialize(data []byte, typeTag string) (any, error) {
	if typeTag != "bytes" {
		return nil, fmt.Errorf("raw serializer: unknown type tag %q", typeTag)
	}
	return data, nil
}
