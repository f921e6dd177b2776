package kconfig

import (
	"time"

	"github.com/birdayz/kstreams-harness/kserde"
	"github.com/birdayz/kstreams-harness/ktime"
	"go.uber.org/multierr"
)

// StreamsConfig configures a streaming job.
type StreamsConfig struct {
	ApplicationID      string
	Brokers            []string
	KeySerde           kserde.Codec
	ValueSerde         kserde.Codec
	TimestampExtractor ktime.Extractor
	OffsetReset        OffsetReset
	Retries            int
	DeliveryTimeout    time.Duration
	CommitInterval     time.Duration
	PollTimeout        time.Duration
	ShutdownTimeout    time.Duration
}

// ParseStreams validates props and returns the job configuration. Every
// problem found is reported; the returned error unwraps to one
// *ConfigurationError per problem.
func ParseStreams(props Properties) (StreamsConfig, error) {
	r := newReader(props,
		ApplicationID, BootstrapServers, DefaultKeySerde, DefaultValueSerde, TimestampExtractor,
		AutoOffsetReset, Retries, DeliveryTimeoutMs, CommitIntervalMs, PollTimeoutMs, ShutdownTimeoutMs,
	)
	r.checkUnknown()

	cfg := StreamsConfig{
		ApplicationID:      r.value(ApplicationID, true, ""),
		Brokers:            r.brokers(BootstrapServers),
		KeySerde:           r.codec(DefaultKeySerde, true, ""),
		ValueSerde:         r.codec(DefaultValueSerde, true, ""),
		TimestampExtractor: r.extractor(TimestampExtractor),
		OffsetReset:        r.offsetReset(AutoOffsetReset),
		Retries:            r.int(Retries, 10),
		DeliveryTimeout:    r.millis(DeliveryTimeoutMs, 30*time.Second),
		CommitInterval:     r.millis(CommitIntervalMs, time.Second),
		PollTimeout:        r.millis(PollTimeoutMs, time.Second),
		ShutdownTimeout:    r.millis(ShutdownTimeoutMs, 10*time.Second),
	}
	if cfg.PollTimeout == 0 {
		r.fail(invalid(PollTimeoutMs, "must be positive"))
	}
	if cfg.ShutdownTimeout == 0 {
		r.fail(invalid(ShutdownTimeoutMs, "must be positive"))
	}

	return cfg, multierr.Combine(r.errs...)
}

// RequiredAcks is the acknowledgment level a producer waits for.
type RequiredAcks string

const (
	AcksAll    RequiredAcks = "all"
	AcksLeader RequiredAcks = "1"
	AcksNone   RequiredAcks = "0"
)

// ProducerConfig configures a kclient.Producer.
type ProducerConfig struct {
	Brokers         []string
	Acks            RequiredAcks
	Retries         int
	KeySerde        kserde.Codec
	ValueSerde      kserde.Codec
	DeliveryTimeout time.Duration
	Linger          time.Duration
}

func ParseProducer(props Properties) (ProducerConfig, error) {
	r := newReader(props,
		BootstrapServers, Acks, Retries, KeySerde, ValueSerde, DeliveryTimeoutMs, LingerMs,
	)
	r.checkUnknown()

	cfg := ProducerConfig{
		Brokers:         r.brokers(BootstrapServers),
		Acks:            RequiredAcks(r.value(Acks, false, string(AcksAll))),
		Retries:         r.int(Retries, 3),
		KeySerde:        r.codec(KeySerde, false, "string"),
		ValueSerde:      r.codec(ValueSerde, false, "string"),
		DeliveryTimeout: r.millis(DeliveryTimeoutMs, 30*time.Second),
		Linger:          r.millis(LingerMs, 0),
	}
	switch cfg.Acks {
	case AcksAll, AcksLeader, AcksNone:
	case "-1":
		cfg.Acks = AcksAll
	default:
		r.fail(invalid(Acks, "%q is not one of all, 1, 0", cfg.Acks))
	}
	if cfg.DeliveryTimeout == 0 {
		r.fail(invalid(DeliveryTimeoutMs, "must be positive"))
	}

	return cfg, multierr.Combine(r.errs...)
}

// ConsumerConfig configures a kclient.Consumer.
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	OffsetReset  OffsetReset
	KeySerde     kserde.Codec
	ValueSerde   kserde.Codec
	FetchMaxWait time.Duration
}

func ParseConsumer(props Properties) (ConsumerConfig, error) {
	r := newReader(props,
		BootstrapServers, GroupID, AutoOffsetReset, KeySerde, ValueSerde, FetchMaxWaitMs,
	)
	r.checkUnknown()

	cfg := ConsumerConfig{
		Brokers:      r.brokers(BootstrapServers),
		GroupID:      r.value(GroupID, true, ""),
		OffsetReset:  r.offsetReset(AutoOffsetReset),
		KeySerde:     r.codec(KeySerde, false, "string"),
		ValueSerde:   r.codec(ValueSerde, false, "string"),
		FetchMaxWait: r.millis(FetchMaxWaitMs, 500*time.Millisecond),
	}
	if cfg.FetchMaxWait == 0 {
		r.fail(invalid(FetchMaxWaitMs, "must be positive"))
	}

	return cfg, multierr.Combine(r.errs...)
}
