package codec

import (
	"encoding/json"
	"fmt"
)

// metadataVersion is the envelope version byte prefixed to every
// encoded call-metadata blob. Bump when the layout changes.
const metadataVersion = 0x01

// ValueMetadata describes one serialized value: its request-scoped
// identifier, the concrete type tag needed to deserialize it, the
// serializer that produced it, and an optional declared content type
// for raw payloads.
type ValueMetadata struct {
	ID          string `json:"id"`
	TypeTag     string `json:"type_tag"`
	Serializer  string `json:"serializer,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// SerializedValue is the wire pair: metadata plus raw bytes.
type SerializedValue struct {
	Meta ValueMetadata `json:"meta"`
	Data []byte        `json:"data"`
}

// Downloaded is one entry of the value table handed to
// ReconstructArguments: a serialized value plus the positional input
// index the caller assigned when it resolved the value. Reduce calls
// order (accumulator, item) by this index, never by map iteration.
type Downloaded struct {
	Value SerializedValue
	Index int
}

// ValueTable maps request-scoped identifiers (value ids, or durable
// call ids for resolved child outputs) to downloaded values.
type ValueTable map[string]Downloaded

// CallMetadata is the decoded form of the opaque callMetadataBytes
// carried by every wire update. It records the call's declared argument
// shape and the metadata of every inline value, which together are
// sufficient to rebuild the original argument list once the referenced
// values are downloaded.
type CallMetadata struct {
	Kind       UpdateKind               `json:"kind"`
	Function   string                   `json:"function"`
	Positional []ArgRef                 `json:"positional,omitempty"`
	Keyword    map[string]ArgRef        `json:"keyword,omitempty"`
	ValueMeta  map[string]ValueMetadata `json:"value_meta,omitempty"`
}

// EncodeCallMetadata produces the versioned binary envelope for one
// call's metadata.
func EncodeCallMetadata(meta CallMetadata) ([]byte, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode call metadata: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, metadataVersion)
	return append(out, body...), nil
}

// DecodeCallMetadata parses a versioned envelope produced by
// EncodeCallMetadata. Unknown versions are rejected rather than
// guessed at.
func DecodeCallMetadata(blob []byte) (CallMetadata, error) {
	if len(blob) == 0 {
		return CallMetadata{}, fmt.Errorf("decode call metadata: empty blob")
	}
	if blob[0] != metadataVersion {
		return CallMetadata{}, fmt.Errorf("decode call metadata: unsupported version 0x%02x", blob[0])
	}
	var meta CallMetadata
	if err := json.Unmarshal(blob[1:], &meta); err != nil {
		return CallMetadata{}, fmt.Errorf("decode call metadata: %w", err)
	}
	return meta, nil
}
