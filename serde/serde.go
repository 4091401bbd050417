// Package serde decodes record keys and values into typed values.
package serde

import (
	"errors"
	"fmt"
)

// ErrDeserialise matches every error returned by Decode.
var ErrDeserialise = errors.New("deserialise")

type Deserialiser[T any] interface {
	Deserialise(topic string, data []byte) (T, error)
}

type DeserialiserFunc[T any] func(topic string, data []byte) (T, error)

func (f DeserialiserFunc[T]) Deserialise(topic string, data []byte) (T, error) {
	return f(topic, data)
}

// Field names the part of a record being decoded.
type Field string

const (
	FieldKey   Field = "key"
	FieldValue Field = "value"
)

// Error reports a payload that could not be decoded.
type Error struct {
	Topic string
	Field Field
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deserialise %s from %s: %v", e.Field, e.Topic, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrDeserialise
}

// Decode runs d and wraps any failure in an *Error.
func Decode[T any](d Deserialiser[T], topic string, field Field, data []byte) (T, error) {
	v, err := d.Deserialise(topic, data)
	if err != nil {
		var zero T
		return zero, &Error{Topic: topic, Field: field, Err: err}
	}
	return v, nil
}
