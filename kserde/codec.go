package kserde

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownCodec = errors.New("unknown codec")
	ErrTypeMismatch = errors.New("value type does not match codec")
)

// Codec is a Serde with its type erased, so codecs can be chosen by name
// from configuration. Decode(Encode(v)) yields v for every supported value.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

type erased[T any] struct {
	name  string
	serde Serde[T]
}

// Erase wraps a typed Serde as a Codec registered under name.
func Erase[T any](name string, s Serde[T]) Codec {
	return &erased[T]{name: name, serde: s}
}

func (c *erased[T]) Name() string { return c.name }

func (c *erased[T]) Encode(v any) ([]byte, error) {
	// A nil key is legal for every codec and is written as an absent key.
	if v == nil {
		return nil, nil
	}
	t, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("%w: codec %s cannot encode %T", ErrTypeMismatch, c.name, v)
	}
	return c.serde.Serializer(t)
}

func (c *erased[T]) Decode(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	return c.serde.Deserializer(b)
}

var codecs = map[string]Codec{
	"string": Erase("string", String),
	"bytes":  Erase("bytes", Bytes),
	"int64":  Erase("int64", Int64),
	"json":   Erase("json", JSON[any]()),
}

// Class names used by JVM clients map onto the native codecs so property
// sets written for them keep working.
var aliases = map[string]string{
	"stringserializer":      "string",
	"stringdeserializer":    "string",
	"stringserde":           "string",
	"bytearrayserializer":   "bytes",
	"bytearraydeserializer": "bytes",
	"bytearrayserde":        "bytes",
	"longserializer":        "int64",
	"longdeserializer":      "int64",
	"longserde":             "int64",
}

// Lookup resolves a codec by name. Names are case-insensitive and may be a
// fully qualified JVM serializer class name.
func Lookup(name string) (Codec, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexAny(n, ".$"); i >= 0 {
		n = n[i+1:]
	}
	if alias, ok := aliases[n]; ok {
		n = alias
	}
	c, ok := codecs[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names returns the registered codec names, sorted.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
