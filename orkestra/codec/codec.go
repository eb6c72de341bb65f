// Package codec defines the serialization contract used to move user
// payloads and FailureDetails to and from the opaque strings a backend
// journals. Implementations must be pure, deterministic, and tolerant of
// null on both sides: serializing nil yields a nil string, and decoding a
// nil string into any target type yields the type's zero value.
package codec

import (
	"context"
	"encoding/json"
	"reflect"
)

// Codec serializes and deserializes values to and from the opaque string
// representation a backend persists in history. Encode/Decode must round
// trip: Decode(Encode(v), typeOf(v)) == v for every codec-supported v.
type Codec interface {
	// Encode serializes value to an opaque string, or returns a nil string
	// if value is nil.
	Encode(value any) (*string, error)
	// Decode deserializes data into a new value of target's type. A nil
	// data pointer decodes to target's zero value without error.
	Decode(data *string, target reflect.Type) (any, error)
}

// AsyncCodec is an optional extension implemented by codecs that support
// externalizing large payloads to out-of-band storage. Semantics are
// otherwise identical to Codec; EncodeAsync/DecodeAsync exist purely so
// callers that need to await externalization don't have to block the
// orchestration turn synchronously.
type AsyncCodec interface {
	Codec
	EncodeAsync(ctx context.Context, value any) (*string, error)
	DecodeAsync(ctx context.Context, data *string, target reflect.Type) (any, error)
}

// JSONCodec is the default Codec, backed by encoding/json. Property names
// always follow encoding/json's default tag-driven behavior.
type JSONCodec struct {
	// FieldNamer is not consulted by Encode or Decode: setting it does not
	// change property-name casing.
	FieldNamer func(string) string
}

// NewJSONCodec returns a Codec backed by encoding/json with default casing.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode serializes value as JSON. A nil value (or a nil pointer/interface)
// encodes to a nil string so null round-trips without an explicit "null"
// literal downstream.
func (c *JSONCodec) Encode(value any) (*string, error) {
	if isNil(value) {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}

// Decode deserializes data into a new value of target's type. A nil data
// pointer, or a literal JSON "null", decodes to target's zero value.
func (c *JSONCodec) Decode(data *string, target reflect.Type) (any, error) {
	if target == nil {
		target = reflect.TypeOf((*any)(nil)).Elem()
	}
	zero := reflect.Zero(target).Interface()
	if data == nil || *data == "" || *data == "null" {
		return zero, nil
	}

	ptr := reflect.New(target)
	if err := json.Unmarshal([]byte(*data), ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// isNil reports whether v is a nil interface, or a typed nil pointer,
// map, slice, chan, or func — anything encoding/json would otherwise render
// as the literal "null".
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
