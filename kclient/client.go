// Package kclient wraps franz-go clients into the small producer and consumer
// surface a pipeline test needs: acknowledged sends, a flush barrier, and
// polls that never block past their timeout.
package kclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	ErrClosed        = errors.New("client closed")
	ErrNotSubscribed = errors.New("consumer has no subscription")
	ErrNoTopics      = errors.New("no topics given")
)

// SendError is returned when a record could not be durably appended.
type SendError struct {
	Topic string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %q: %v", e.Topic, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Ack confirms a record was appended.
type Ack struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

func ackFrom(r *kgo.Record) Ack {
	return Ack{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Timestamp: r.Timestamp,
	}
}

// Record is a consumed record with key and value decoded by the consumer's
// codecs.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Headers   []kgo.RecordHeader
	Key       any
	Value     any
}

// Values extracts the record values as T, in record order.
func Values[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, ok := r.Value.(T)
		if !ok {
			return out, fmt.Errorf("record %s[%d]@%d: value is %T, want %T", r.Topic, r.Partition, r.Offset, r.Value, *new(T))
		}
		out = append(out, v)
	}
	return out, nil
}

// Option is a function that configures a Producer or Consumer.
type Option func(*options)

type options struct {
	log   logr.Logger
	kgo   []kgo.Opt
	name  string
	start int64
}

// WithLogr sets the logger.
var WithLogr = func(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithClientOpts appends raw franz-go options, applied after the ones
// derived from configuration.
var WithClientOpts = func(opts ...kgo.Opt) Option {
	return func(o *options) {
		o.kgo = append(o.kgo, opts...)
	}
}

// WithClientID sets the client id reported to the broker.
var WithClientID = func(id string) Option {
	return func(o *options) {
		o.name = id
	}
}

// WithStartOffset makes a consumer group without committed offsets start at
// offset instead of following auto.offset.reset.
var WithStartOffset = func(offset int64) Option {
	return func(o *options) {
		o.start = offset
	}
}

func applyOptions(opts []Option) *options {
	o := &options{log: logr.Discard(), start: -1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
