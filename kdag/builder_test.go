package kdag

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestBuild(t *testing.T) {
	t.Run("pass-through", func(t *testing.T) {
		b := NewBuilder("noop-test-streams")
		b.Stream("inputTopic").To("outputTopic")

		p, err := b.Build()
		assert.NoError(t, err)
		assert.Equal(t, "noop-test-streams", p.Name())
		assert.Equal(t, "inputTopic", p.Source())
		assert.Equal(t, "outputTopic", p.Sink())
		assert.Equal(t, []string{"inputTopic", "outputTopic"}, p.Topics())
		assert.Equal(t, "noop-test-streams: inputTopic -> outputTopic", p.String())
	})

	t.Run("topic names are trimmed", func(t *testing.T) {
		p, err := PassThrough("job", " in ", "out\n")
		assert.NoError(t, err)
		assert.Equal(t, "in", p.Source())
		assert.Equal(t, "out", p.Sink())
	})
}

func TestBuildInvalid(t *testing.T) {
	tests := []struct {
		name     string
		build    func(b *Builder)
		expected error
	}{
		{
			name:     "empty builder",
			build:    func(b *Builder) {},
			expected: ErrMissingSource,
		},
		{
			name:     "source without sink",
			build:    func(b *Builder) { b.Stream("in") },
			expected: ErrMissingSink,
		},
		{
			name:     "empty source",
			build:    func(b *Builder) { b.Stream("").To("out") },
			expected: ErrEmptyTopic,
		},
		{
			name:     "blank sink",
			build:    func(b *Builder) { b.Stream("in").To("   ") },
			expected: ErrEmptyTopic,
		},
		{
			name:     "same topic",
			build:    func(b *Builder) { b.Stream("loop").To("loop") },
			expected: ErrSameTopic,
		},
		{
			name: "two sources",
			build: func(b *Builder) {
				b.Stream("a").To("out")
				b.Stream("b")
			},
			expected: ErrInvalidPipeline,
		},
		{
			name: "two sinks",
			build: func(b *Builder) {
				s := b.Stream("in")
				s.To("out-1")
				s.To("out-2")
			},
			expected: ErrInvalidPipeline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("job")
			tt.build(b)
			p, err := b.Build()
			assert.Error(t, err)
			assert.Zero(t, p)
			assert.True(t, errors.Is(err, tt.expected))
			assert.True(t, errors.Is(err, ErrInvalidPipeline))
		})
	}
}

func TestMustBuildPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder("job").MustBuild()
	})
}

func TestNodeTypeString(t *testing.T) {
	assert.Equal(t, "source", NodeTypeSource.String())
	assert.Equal(t, "sink", NodeTypeSink.String())
	assert.Equal(t, "NodeType(7)", NodeType(7).String())
}
