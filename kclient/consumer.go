package kclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/birdayz/kstreams-harness/internal/klog"
	"github.com/birdayz/kstreams-harness/kconfig"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
)

// Consumer reads topics as a member of a consumer group. Each Poll returns a
// finite batch; repeated polls continue where the previous one stopped.
type Consumer struct {
	cfg  kconfig.ConsumerConfig
	log  logr.Logger
	opts *options

	mu     sync.Mutex
	client *kgo.Client
	topics []string
	closed bool
}

func NewConsumer(props kconfig.Properties, opts ...Option) (*Consumer, error) {
	cfg, err := kconfig.ParseConsumer(props)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &Consumer{
		cfg:  cfg,
		log:  o.log,
		opts: o,
	}, nil
}

// Subscribe registers interest in topics. It takes effect before the next
// Poll; topics added later join the existing subscription.
func (c *Consumer) Subscribe(topics ...string) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.client != nil {
		c.client.AddConsumeTopics(topics...)
		c.topics = append(c.topics, topics...)
		return nil
	}

	reset := kgo.NewOffset().AtStart()
	switch {
	case c.opts.start >= 0:
		reset = kgo.NewOffset().At(c.opts.start)
	case c.cfg.OffsetReset == kconfig.OffsetLatest:
		reset = kgo.NewOffset().AtEnd()
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.WithLogger(klog.Client(c.log)),
		kgo.ConsumerGroup(c.cfg.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.FetchMaxWait(c.cfg.FetchMaxWait),
	}
	if c.opts.name != "" {
		kopts = append(kopts, kgo.ClientID(c.opts.name))
	}
	kopts = append(kopts, c.opts.kgo...)

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return err
	}
	c.client = client
	c.topics = append(c.topics, topics...)
	c.log.V(1).Info("Subscribed", "group", c.cfg.GroupID, "topics", topics)
	return nil
}

// Topics returns the subscribed topics.
func (c *Consumer) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

// Poll waits up to timeout for at least one record and returns whatever is
// available, possibly nothing. An expired timeout is not an error.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	c.mu.Lock()
	client, closed := c.client, c.closed
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if client == nil {
		return nil, ErrNotSubscribed
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := client.PollFetches(pollCtx)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		errs = append(errs, fmt.Errorf("fetch %s[%d]: %w", topic, partition, err))
	})

	records := make([]Record, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		rec, err := c.decode(r)
		if err != nil {
			errs = append(errs, err)
			return
		}
		records = append(records, rec)
	})

	if len(errs) == 0 && ctx.Err() != nil {
		return records, ctx.Err()
	}
	return records, multierr.Combine(errs...)
}

// Close leaves the group and releases the client. Subsequent calls do
// nothing.
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Consumer) decode(r *kgo.Record) (Record, error) {
	key, err := c.cfg.KeySerde.Decode(r.Key)
	if err != nil {
		return Record{}, fmt.Errorf("decode key %s[%d]@%d: %w", r.Topic, r.Partition, r.Offset, err)
	}
	value, err := c.cfg.ValueSerde.Decode(r.Value)
	if err != nil {
		return Record{}, fmt.Errorf("decode value %s[%d]@%d: %w", r.Topic, r.Partition, r.Offset, err)
	}
	return Record{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Timestamp: r.Timestamp,
		Headers:   r.Headers,
		Key:       key,
		Value:     value,
	}, nil
}
