package kdag

import (
	"errors"
	"fmt"
	"strings"
)

// NodeType represents the kind of node in the pipeline.
type NodeType int

const (
	NodeTypeSource NodeType = iota
	NodeTypeSink
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeSource:
		return "source"
	case NodeTypeSink:
		return "sink"
	default:
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
}

// Node is the build-time representation of one end of the pipeline.
type Node struct {
	Type  NodeType
	Topic string
}

// Sentinel errors for common failure cases.
var (
	ErrInvalidPipeline = errors.New("invalid pipeline")
	ErrMissingSource   = fmt.Errorf("%w: no source registered", ErrInvalidPipeline)
	ErrMissingSink     = fmt.Errorf("%w: no sink registered", ErrInvalidPipeline)
	ErrEmptyTopic      = fmt.Errorf("%w: empty topic name", ErrInvalidPipeline)
	ErrSameTopic       = fmt.Errorf("%w: source and sink topic are the same", ErrInvalidPipeline)
)

// Builder constructs a Pipeline.
//
// Builder is NOT safe for concurrent use.
type Builder struct {
	name  string
	nodes []Node
}

// NewBuilder creates a builder for a pipeline named name. The name is used
// in logs and metrics only.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Stream registers topic as the pipeline's source.
func (b *Builder) Stream(topic string) *Stream {
	b.nodes = append(b.nodes, Node{Type: NodeTypeSource, Topic: topic})
	return &Stream{b: b}
}

// Stream is the handle returned by Builder.Stream.
type Stream struct {
	b *Builder
}

// To writes the stream, unchanged, to topic.
func (s *Stream) To(topic string) {
	s.b.nodes = append(s.b.nodes, Node{Type: NodeTypeSink, Topic: topic})
}

// Build validates and freezes the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	var source, sink []Node
	for _, n := range b.nodes {
		switch n.Type {
		case NodeTypeSource:
			source = append(source, n)
		case NodeTypeSink:
			sink = append(sink, n)
		}
	}

	switch {
	case len(source) == 0:
		return nil, ErrMissingSource
	case len(sink) == 0:
		return nil, ErrMissingSink
	case len(source) > 1:
		return nil, fmt.Errorf("%w: %d sources registered, expected 1", ErrInvalidPipeline, len(source))
	case len(sink) > 1:
		return nil, fmt.Errorf("%w: %d sinks registered, expected 1", ErrInvalidPipeline, len(sink))
	}

	src, dst := strings.TrimSpace(source[0].Topic), strings.TrimSpace(sink[0].Topic)
	if src == "" {
		return nil, fmt.Errorf("%w (source)", ErrEmptyTopic)
	}
	if dst == "" {
		return nil, fmt.Errorf("%w (sink)", ErrEmptyTopic)
	}
	if src == dst {
		return nil, fmt.Errorf("%w: %q", ErrSameTopic, src)
	}

	return &Pipeline{name: b.name, source: src, sink: dst}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}
