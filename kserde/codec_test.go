package kserde

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "native string", input: "string", expected: "string"},
		{name: "case insensitive", input: " String ", expected: "string"},
		{name: "jvm string serializer", input: "org.apache.kafka.common.serialization.StringSerializer", expected: "string"},
		{name: "jvm string deserializer", input: "org.apache.kafka.common.serialization.StringDeserializer", expected: "string"},
		{name: "jvm nested serde", input: "org.apache.kafka.common.serialization.Serdes$StringSerde", expected: "string"},
		{name: "jvm byte array", input: "org.apache.kafka.common.serialization.ByteArraySerializer", expected: "bytes"},
		{name: "jvm long", input: "org.apache.kafka.common.serialization.LongDeserializer", expected: "int64"},
		{name: "json", input: "json", expected: "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Lookup(tt.input)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, c.Name())
		})
	}

	t.Run("unknown codec", func(t *testing.T) {
		_, err := Lookup("avro")
		assert.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownCodec))
	})
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"bytes", "int64", "json", "string"}, Names())
}

func TestStringCodec(t *testing.T) {
	c, err := Lookup("string")
	assert.NoError(t, err)

	for _, in := range []string{"hello world", "", "Hello 世界", " \t\n\r "} {
		b, err := c.Encode(in)
		assert.NoError(t, err)
		out, err := c.Decode(b)
		assert.NoError(t, err)
		assert.Equal(t, any(in), out)
	}
}

func TestCodecTypeMismatch(t *testing.T) {
	c, err := Lookup("string")
	assert.NoError(t, err)

	_, err = c.Encode(42)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestCodecNil(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, err := Lookup(name)
			assert.NoError(t, err)

			b, err := c.Encode(nil)
			assert.NoError(t, err)
			assert.Zero(t, b)

			v, err := c.Decode(nil)
			assert.NoError(t, err)
			assert.Zero(t, v)
		})
	}
}

func TestInt64Codec(t *testing.T) {
	c, err := Lookup("int64")
	assert.NoError(t, err)

	b, err := c.Encode(int64(-1234567890123))
	assert.NoError(t, err)
	assert.Equal(t, 8, len(b))

	v, err := c.Decode(b)
	assert.NoError(t, err)
	assert.Equal(t, any(int64(-1234567890123)), v)

	_, err = c.Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestJSONCodec(t *testing.T) {
	c, err := Lookup("json")
	assert.NoError(t, err)

	b, err := c.Encode(map[string]any{"word": "world", "count": 2})
	assert.NoError(t, err)

	v, err := c.Decode(b)
	assert.NoError(t, err)
	assert.Equal(t, any(map[string]any{"word": "world", "count": float64(2)}), v)

	_, err = c.Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestBytesCodec(t *testing.T) {
	c, err := Lookup("bytes")
	assert.NoError(t, err)

	b, err := c.Encode([]byte{0x00, 0xff})
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, b)

	_, err = c.Encode("not bytes")
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}
