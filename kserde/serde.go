package kserde

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Serde pairs a typed serializer with its inverse.
type Serde[T any] struct {
	Serializer   Serializer[T]
	Deserializer Deserializer[T]
}

type Serializer[T any] func(T) ([]byte, error)

type Deserializer[T any] func([]byte) (T, error)

var String = Serde[string]{
	Serializer: func(s string) ([]byte, error) {
		return []byte(s), nil
	},
	Deserializer: func(b []byte) (string, error) {
		return string(b), nil
	},
}

// Bytes passes payloads through untouched. A nil payload stays nil so
// tombstones survive a round trip.
var Bytes = Serde[[]byte]{
	Serializer: func(b []byte) ([]byte, error) {
		return b, nil
	},
	Deserializer: func(b []byte) ([]byte, error) {
		return b, nil
	},
}

// Int64 uses the 8-byte big-endian layout of the JVM LongSerializer.
var Int64 = Serde[int64]{
	Serializer: func(v int64) ([]byte, error) {
		return binary.BigEndian.AppendUint64(nil, uint64(v)), nil
	},
	Deserializer: func(b []byte) (int64, error) {
		if len(b) != 8 {
			return 0, fmt.Errorf("int64 needs 8 bytes, got %d", len(b))
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	},
}

func JSON[T any]() Serde[T] {
	return Serde[T]{
		Serializer: func(v T) ([]byte, error) {
			return json.Marshal(v)
		},
		Deserializer: func(b []byte) (T, error) {
			var v T
			err := json.Unmarshal(b, &v)
			return v, err
		},
	}
}
