// Package serializer defines the contract a transit frame body serializer
// must satisfy, and provides a default JSON implementation.
//
// Transit frame bodies are deliberately opaque to the envelope: a node
// should be able to swap in MsgPack, Avro, or Protobuf without touching
// frame routing. This package only specifies the interface and a default;
// concrete non-JSON serializers are treated as an external collaborator.
package serializer

import "encoding/json"

// A Serializer converts values to and from the byte representation carried
// in transit frame payloads. Implementations must be round-trip stable: for
// any v produced by this package's frame types, Deserialize(Serialize(v))
// must reconstruct an equivalent value.
type Serializer interface {
	// Serialize encodes v into its wire representation.
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into v, which must be a pointer.
	Deserialize(data []byte, v any) error
}

// JSON is the default Serializer, grounded on the corpus's own consistent
// use of encoding/json for wire and event payloads (no repository in the
// retrieval pack imports a third-party serialization library).
type JSON struct{}

// Serialize implements the Serializer interface.
func (JSON) Serialize(v any) ([]byte, error) { return json.Marshal(v) }

// Deserialize implements the Serializer interface.
func (JSON) Deserialize(data []byte, v any) error { return json.Unmarshal(data, v) }

// Default is a ready-to-use JSON serializer.
var Default Serializer = JSON{}
