// Package kbroker provides single-node Kafka-protocol brokers for tests:
// an in-process one, a containerised Redpanda, and a handle on an already
// running cluster. All of them create topics explicitly and idempotently.
package kbroker

import (
	"context"
	"errors"
	"fmt"
)

// Broker is a single-node cluster whose lifecycle the caller controls.
type Broker interface {
	// Start brings the broker to a ready state. Starting a ready broker is a
	// no-op.
	Start(ctx context.Context) error
	// CreateTopic ensures a single-partition topic exists. Creating an
	// existing topic succeeds and leaves its data untouched.
	CreateTopic(ctx context.Context, name string) error
	// Topics lists the topics created through this broker, sorted.
	Topics() []string
	// EndOffset returns the next offset to be assigned in partition 0 of
	// topic.
	EndOffset(ctx context.Context, topic string) (int64, error)
	// BootstrapAddress is the host:port clients connect to. It is empty
	// before Start and stable afterwards.
	BootstrapAddress() string
	// Stop releases every resource the broker holds. It is idempotent and
	// safe after a failed Start.
	Stop() error
}

var (
	ErrStopped    = errors.New("broker stopped")
	ErrNotReady   = errors.New("broker not ready")
	ErrEmptyTopic = errors.New("empty topic name")
)

// StartupError is returned when a broker cannot be brought up.
type StartupError struct {
	Broker string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("start %s broker: %v", e.Broker, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// TopicCreationError is returned when a topic cannot be ensured.
type TopicCreationError struct {
	Topic string
	Err   error
}

func (e *TopicCreationError) Error() string {
	return fmt.Sprintf("create topic %q: %v", e.Topic, e.Err)
}

func (e *TopicCreationError) Unwrap() error {
	return e.Err
}

type state int

const (
	stateNew state = iota
	stateReady
	stateStopped
)
