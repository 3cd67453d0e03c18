package rpc

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Optional is the wire-level equivalent of FoundationDB's Optional<T>: a
// value that is either present or absent, distinct from the zero value of T.
type Optional[T any] struct {
	present bool
	value   T
}

func Some[T any](v T) Optional[T] { return Optional[T]{present: true, value: v} }
func None[T any]() Optional[T]    { return Optional[T]{} }

func (o Optional[T]) Present() bool { return o.present }

func (o Optional[T]) Get() T {
	if !o.present {
		panic("rpc: Get called on absent Optional")
	}
	return o.value
}

func (o Optional[T]) OrElse(fallback T) T {
	if !o.present {
		return fallback
	}
	return o.value
}

// gobWireOptional mirrors Optional's fields as exported ones so values
// embedding an Optional[T] in their own wire payloads still round-trip
// through gob, which otherwise skips unexported struct fields.
type gobWireOptional[T any] struct {
	Present bool
	Value   T
}

func (o Optional[T]) GobEncode() ([]byte, error) {
	return encodeValue(gobWireOptional[T]{Present: o.present, Value: o.value})
}

func (o *Optional[T]) GobDecode(data []byte) error {
	var w gobWireOptional[T]
	if err := decodeValue(data, &w); err != nil {
		return err
	}
	o.present = w.Present
	o.value = w.Value
	return nil
}

// Envelope is what actually crosses a wire: the destination Token so the
// receiving peer's Transport can dispatch to the right local Receiver,
// plus the already gob-encoded application payload. Transport
// implementations encode/decode Envelope; everything above that layer only
// ever sees the raw payload.
type Envelope struct {
	Token   Token
	Payload []byte
}

func encodeValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "gob-encode rpc payload")
	}
	return buf.Bytes(), nil
}

func decodeValue(payload []byte, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(out); err != nil {
		return errors.Wrap(err, "gob-decode rpc payload")
	}
	return nil
}

// EncodeEnvelope frames payload for token as bytes ready to hand to a
// Transport's wire layer.
func EncodeEnvelope(tok Token, payload []byte) ([]byte, error) {
	return encodeValue(Envelope{Token: tok, Payload: payload})
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := decodeValue(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
