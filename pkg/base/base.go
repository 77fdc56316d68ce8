// Package base defines the content-addressed records that make up an object
// graph and the helpers used to inspect them structurally.
//
// A Base is a JSON-shaped record with a mandatory "id" (its content hash).
// Graph edges are discovered in three ways:
//
//   - the "__closure" map, which lists every transitive descendant id
//   - a "referenceId" field, which makes the record a pointer to another Base
//   - nested values: any property holding a Base, or an array of them
//
// Bases are immutable once resolved. Helpers that need a modified record
// (for example stripping excluded properties) always return a copy.
package base

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Well-known field names.
const (
	FieldID          = "id"
	FieldClosure     = "__closure"
	FieldReferenceID = "referenceId"
	FieldType        = "__type"
	FieldData        = "data"

	// ChunkType is the type discriminator of a chunk container, a Base that
	// holds one shard of a larger array under FieldData.
	ChunkType = "DataChunk"
)

var (
	// ErrMissingID is returned when a record has no usable "id" field.
	ErrMissingID = errors.New("base: missing id")

	// ErrIDMismatch is returned when an Item's BaseID disagrees with its Base.
	ErrIDMismatch = errors.New("base: item id does not match base id")
)

// Base is one immutable node of the object graph.
type Base map[string]any

// ID returns the content id, or "" when the record has none.
func (b Base) ID() string {
	id, _ := b[FieldID].(string)
	return id
}

// Closure returns the declared descendants (id to depth).
// Depths that are not numbers are reported as 0.
func (b Base) Closure() map[string]int {
	raw, ok := b[FieldClosure].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]int, len(raw))
	for id, v := range raw {
		out[id] = toInt(v)
	}
	return out
}

// ClosureIDs returns the closure ids without depths.
func (b Base) ClosureIDs() []string {
	raw, ok := b[FieldClosure].(map[string]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	return ids
}

// ReferenceID returns the id this Base points at, if any.
func (b Base) ReferenceID() (string, bool) {
	ref, ok := b[FieldReferenceID].(string)
	return ref, ok && ref != ""
}

// IsChunk reports whether b is a chunk container.
func (b Base) IsChunk() bool {
	t, _ := b[FieldType].(string)
	return t == ChunkType
}

// ChunkData returns the elements held by a chunk container.
func (b Base) ChunkData() []any {
	data, _ := b[FieldData].([]any)
	return data
}

// Clone returns a shallow copy of b. Nested values are shared, which is safe
// because resolved Bases are never mutated.
func (b Base) Clone() Base {
	return maps.Clone(b)
}

// Without returns a copy of b with the given properties removed. When none of
// the properties are present b itself is returned.
func (b Base) Without(props ...string) Base {
	var out Base
	for _, p := range props {
		if _, ok := b[p]; !ok {
			continue
		}
		if out == nil {
			out = b.Clone()
		}
		delete(out, p)
	}
	if out == nil {
		return b
	}
	return out
}

// Decode parses a JSON record into a Base.
func Decode(data []byte) (Base, error) {
	var b Base
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	if b.ID() == "" {
		return nil, ErrMissingID
	}
	return b, nil
}

// Encode serializes a Base to JSON.
func Encode(b Base) ([]byte, error) {
	return json.Marshal(b)
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
