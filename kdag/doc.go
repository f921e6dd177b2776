// Package kdag describes what a streaming job does: which topic it reads and
// which topic it writes.
//
// A pipeline is assembled with a Builder and frozen by Build:
//
//	b := kdag.NewBuilder("noop-test-streams")
//	b.Stream("inputTopic").To("outputTopic")
//	p, err := b.Build()
//
// The only transform in scope is the identity, so a Pipeline is a source
// node wired to a sink node. Build rejects pipelines without exactly one of
// each, with empty topic names, or whose source and sink are the same topic
// (a job writing into its own input would never terminate).
//
// A built Pipeline is immutable and safe to share between goroutines.
package kdag
