package serde

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
)

// Bytes returns payloads as they are. A nil payload stays nil.
func Bytes() Deserialiser[[]byte] {
	return DeserialiserFunc[[]byte](
		func(_ string, data []byte) ([]byte, error) {
			return data, nil
		},
	)
}

func String() Deserialiser[string] {
	return DeserialiserFunc[string](
		func(_ string, data []byte) (string, error) {
			return string(data), nil
		},
	)
}

// JSON decodes payloads with encoding/json. An empty payload is an error.
func JSON[T any]() Deserialiser[T] {
	return DeserialiserFunc[T](
		func(_ string, data []byte) (T, error) {
			var v T
			err := json.Unmarshal(data, &v)
			return v, err
		},
	)
}

// Protobuf decodes payloads into a fresh message of type T. T must be a
// generated message pointer such as *structpb.Struct.
func Protobuf[T proto.Message]() Deserialiser[T] {
	return DeserialiserFunc[T](
		func(_ string, data []byte) (T, error) {
			var zero T
			msg := zero.ProtoReflect().New().Interface().(T)
			if err := proto.Unmarshal(data, msg); err != nil {
				return zero, err
			}
			return msg, nil
		},
	)
}
