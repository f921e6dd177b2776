package kclient

import (
	"context"
	"sync"
	"time"

	"github.com/birdayz/kstreams-harness/internal/klog"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// closeGrace bounds the flush Close performs before tearing down the client.
const closeGrace = 5 * time.Second

// Producer appends records to topics. Records sent by one goroutine, each
// awaited before the next, land in submission order.
type Producer struct {
	cfg    kconfig.ProducerConfig
	client *kgo.Client
	log    logr.Logger

	mu       sync.Mutex
	asyncErr error
	closed   bool
}

// NewProducer validates props and connects lazily; an unreachable broker
// only surfaces on the first send.
func NewProducer(props kconfig.Properties, opts ...Option) (*Producer, error) {
	cfg, err := kconfig.ParseProducer(props)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.WithLogger(klog.Client(o.log)),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.Retries),
	}
	if o.name != "" {
		kopts = append(kopts, kgo.ClientID(o.name))
	}
	switch cfg.Acks {
	case kconfig.AcksAll:
		kopts = append(kopts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case kconfig.AcksLeader:
		kopts = append(kopts,
			kgo.RequiredAcks(kgo.LeaderAck()),
			kgo.DisableIdempotentWrite(),
			kgo.MaxProduceRequestsInflightPerBroker(1),
		)
	case kconfig.AcksNone:
		kopts = append(kopts,
			kgo.RequiredAcks(kgo.NoAck()),
			kgo.DisableIdempotentWrite(),
			kgo.MaxProduceRequestsInflightPerBroker(1),
		)
	}
	kopts = append(kopts, o.kgo...)

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, err
	}

	return &Producer{
		cfg:    cfg,
		client: client,
		log:    o.log,
	}, nil
}

// Send appends value to topic without a key and waits for the
// acknowledgment.
func (p *Producer) Send(ctx context.Context, topic string, value any) (Ack, error) {
	return p.SendKeyed(ctx, topic, nil, value)
}

// SendKeyed appends (key, value) to topic and waits for the acknowledgment,
// at most the configured delivery timeout.
func (p *Producer) SendKeyed(ctx context.Context, topic string, key, value any) (Ack, error) {
	if p.isClosed() {
		return Ack{}, &SendError{Topic: topic, Err: ErrClosed}
	}
	rec, err := p.record(topic, key, value)
	if err != nil {
		return Ack{}, &SendError{Topic: topic, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DeliveryTimeout)
	defer cancel()

	r, err := p.client.ProduceSync(ctx, rec).First()
	if err != nil {
		p.log.Error(err, "Send failed", "topic", topic)
		return Ack{}, &SendError{Topic: topic, Err: err}
	}
	p.log.V(1).Info("Sent record", "topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
	return ackFrom(r), nil
}

// SendAsync buffers value for topic and returns immediately. done, if not
// nil, is called once the record is resolved. Failures are also reported by
// the next Flush.
func (p *Producer) SendAsync(ctx context.Context, topic string, value any, done func(Ack, error)) {
	if done == nil {
		done = func(Ack, error) {}
	}
	if p.isClosed() {
		done(Ack{}, &SendError{Topic: topic, Err: ErrClosed})
		return
	}
	rec, err := p.record(topic, nil, value)
	if err != nil {
		serr := &SendError{Topic: topic, Err: err}
		p.fail(serr)
		done(Ack{}, serr)
		return
	}

	p.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			serr := &SendError{Topic: topic, Err: err}
			p.fail(serr)
			done(Ack{}, serr)
			return
		}
		done(ackFrom(r), nil)
	})
}

// Flush blocks until every outstanding send is resolved and returns the
// first asynchronous failure since the previous Flush.
func (p *Producer) Flush(ctx context.Context) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.client.Flush(ctx); err != nil {
		return &SendError{Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.asyncErr
	p.asyncErr = nil
	return err
}

// Close flushes outstanding records, bounded by a grace period, and
// releases the client. Subsequent calls do nothing.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.log.Error(err, "Flush on close failed")
	}
	p.client.Close()
}

func (p *Producer) record(topic string, key, value any) (*kgo.Record, error) {
	k, err := p.cfg.KeySerde.Encode(key)
	if err != nil {
		return nil, err
	}
	v, err := p.cfg.ValueSerde.Encode(value)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{Topic: topic, Key: k, Value: v}, nil
}

func (p *Producer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asyncErr == nil {
		p.asyncErr = err
	}
}

func (p *Producer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
