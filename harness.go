// Package harness runs pass-through pipeline checks against a single-node
// broker: records produced to an input topic must come out of a streaming
// job's output topic unchanged and in order, within a bounded polling
// budget.
package harness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/birdayz/kstreams-harness/kbroker"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultSettleDelay  = time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultBudget       = 2 * time.Second
)

// Option is a function that configures a Harness.
type Option func(*Harness)

// WithBroker replaces the in-process broker.
var WithBroker = func(b kbroker.Broker) Option {
	return func(h *Harness) {
		h.broker = b
	}
}

// WithLogr sets the logger.
var WithLogr = func(log logr.Logger) Option {
	return func(h *Harness) {
		h.log = log
	}
}

// WithSettleDelay bounds each wait for the job: for its partitions before
// input is produced, and for its output before it is closed.
var WithSettleDelay = func(d time.Duration) Option {
	return func(h *Harness) {
		h.settle = d
	}
}

// WithPollInterval sets the verification poll interval.
var WithPollInterval = func(d time.Duration) Option {
	return func(h *Harness) {
		h.interval = d
	}
}

// WithBudget sets the total verification polling budget.
var WithBudget = func(d time.Duration) Option {
	return func(h *Harness) {
		h.budget = d
	}
}

// WithRegisterer registers job metrics on reg.
var WithRegisterer = func(reg prometheus.Registerer) Option {
	return func(h *Harness) {
		h.reg = reg
	}
}

// Harness owns a broker for the duration of a test run.
type Harness struct {
	broker   kbroker.Broker
	log      logr.Logger
	settle   time.Duration
	interval time.Duration
	budget   time.Duration
	reg      prometheus.Registerer

	stopOnce sync.Once
	stopErr  error
}

func New(opts ...Option) *Harness {
	h := &Harness{
		log:      logr.Discard(),
		settle:   DefaultSettleDelay,
		interval: DefaultPollInterval,
		budget:   DefaultBudget,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.broker == nil {
		h.broker = &kbroker.Embedded{Log: h.log.WithName("broker")}
	}
	if h.reg == nil {
		h.reg = prometheus.NewRegistry()
	}
	return h
}

// NewTesting starts a harness for t and stops it when t finishes.
func NewTesting(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	h := New(opts...)
	t.Cleanup(func() {
		if err := h.Stop(); err != nil {
			t.Errorf("stop broker: %v", err)
		}
	})
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start broker: %v", err)
	}
	return h
}

func (h *Harness) Start(ctx context.Context) error {
	return h.broker.Start(ctx)
}

func (h *Harness) CreateTopic(ctx context.Context, name string) error {
	return h.broker.CreateTopic(ctx, name)
}

func (h *Harness) BootstrapAddress() string {
	return h.broker.BootstrapAddress()
}

func (h *Harness) Broker() kbroker.Broker {
	return h.broker
}

// Stop stops the broker. Only the first call does any work.
func (h *Harness) Stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = h.broker.Stop()
	})
	return h.stopErr
}

// StreamsConfig returns job options for jobID against this broker.
func (h *Harness) StreamsConfig(jobID string) kconfig.Properties {
	return kconfig.Properties{
		kconfig.ApplicationID:      jobID,
		kconfig.BootstrapServers:   h.BootstrapAddress(),
		kconfig.DefaultKeySerde:    "string",
		kconfig.DefaultValueSerde:  "string",
		kconfig.TimestampExtractor: "wallclock",
		kconfig.PollTimeoutMs:      "100",
	}
}

// ProducerConfig returns producer options waiting for full acknowledgment.
func (h *Harness) ProducerConfig() kconfig.Properties {
	return kconfig.Properties{
		kconfig.BootstrapServers: h.BootstrapAddress(),
		kconfig.Acks:             string(kconfig.AcksAll),
		kconfig.KeySerde:         "string",
		kconfig.ValueSerde:       "string",
	}
}

// ConsumerConfig returns consumer options reading group's topics from the
// beginning.
func (h *Harness) ConsumerConfig(group string) kconfig.Properties {
	return kconfig.Properties{
		kconfig.BootstrapServers: h.BootstrapAddress(),
		kconfig.GroupID:          group,
		kconfig.AutoOffsetReset:  string(kconfig.OffsetEarliest),
		kconfig.KeySerde:         "string",
		kconfig.ValueSerde:       "string",
	}
}

func merge(base, overrides kconfig.Properties) kconfig.Properties {
	out := base.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
