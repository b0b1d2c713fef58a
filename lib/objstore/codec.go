package objstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Codec encodes managed objects and tasks for storage
type Codec interface {
	// Encode serializes v, which is a ManagedObject or a Task
	Encode(v any) ([]byte, error)
	// Decode deserializes bytes produced by Encode into a new value
	Decode(b []byte) (any, error)
}

// NewGOBCodec creates a codec using Go's gob format. Values are encoded behind an
// interface, so the concrete types must be registered with Register.
func NewGOBCodec() Codec {
	return gobCodecImpl{}
}

// Register records the concrete type of value for the gob codec. Generic collection
// types must be registered once per instantiation (e.g. through scalable.RegisterHashMap).
// Registering the same type twice is harmless.
func Register(value any) {
	gob.Register(value)
}

// envelope carries the value as an interface so the decoder learns its concrete type
type envelope struct {
	Value any
}

type gobCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore.Codec)
// --------------------------------------------------------------------------

func (gobCodecImpl) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Value: v}); err != nil {
		return nil, NewError(RetCNotStorable, "cannot encode %T: %v", v, err)
	}
	return buf.Bytes(), nil
}

func (gobCodecImpl) Decode(b []byte) (any, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, NewError(RetCInternalError, "cannot decode object: %v", err)
	}
	if env.Value == nil {
		return nil, NewError(RetCInternalError, "decoded object is empty")
	}
	return env.Value, nil
}

// TypeName returns the name used for v in statistics
func TypeName(v any) string {
	return fmt.Sprintf("%T", v)
}
