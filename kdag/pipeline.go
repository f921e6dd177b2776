package kdag

import "fmt"

// Pipeline maps one source topic to one sink topic with the identity
// transform.
type Pipeline struct {
	name   string
	source string
	sink   string
}

// PassThrough builds the single-stage pipeline source -> sink.
func PassThrough(name, source, sink string) (*Pipeline, error) {
	b := NewBuilder(name)
	b.Stream(source).To(sink)
	return b.Build()
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Source() string { return p.source }

func (p *Pipeline) Sink() string { return p.sink }

// Topics returns the source and sink topic.
func (p *Pipeline) Topics() []string {
	return []string{p.source, p.sink}
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("%s: %s -> %s", p.name, p.source, p.sink)
}
